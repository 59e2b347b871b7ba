package filter

import "regexp"

// rule is a compiled pattern with an optional exclusion. RE2 has no
// lookahead, so "X but not Y" is written as match && !except.
type rule struct {
	re     *regexp.Regexp
	except *regexp.Regexp
}

func (r rule) match(cmd string) bool {
	if !r.re.MatchString(cmd) {
		return false
	}
	return r.except == nil || !r.except.MatchString(cmd)
}

func (r rule) String() string {
	return r.re.String()
}

// anchored matches expr at the start of the command
func anchored(expr string) rule {
	return rule{re: regexp.MustCompile(`(?i)^\s*` + expr)}
}

// negatable matches expr with or without a leading "no"
func negatable(expr string) rule {
	return rule{re: regexp.MustCompile(`(?i)^\s*(no\s+)?` + expr)}
}

// denyRules are checked first in every context and every mode
var denyRules = []rule{
	anchored(`reload\b`),
	anchored(`erase\b`),
	anchored(`format\b`),
	anchored(`write\s+erase\b`),
	anchored(`delete\b`),
	anchored(`squeeze\b`),
	anchored(`crypto\s+key\s+zeroize\b`),
	anchored(`no\s+enable\b`),
	anchored(`debug\s+all\b`),
	anchored(`no\s+service\s+password-encryption\b`),
	anchored(`boot\s+system\b`),
	anchored(`config-register\b`),
	anchored(`enable\s+secret\b`),
	anchored(`enable\s+password\b`),
	anchored(`service\s+password-encryption\b`),
	anchored(`snmp-server\s+community\b`),
	anchored(`username\b`),
	{
		re:     regexp.MustCompile(`(?i)^\s*copy\s+\S+\s+startup-config\b`),
		except: regexp.MustCompile(`(?i)^\s*copy\s+running-config\s`),
	},
}

var execAllowRules = []rule{
	anchored(`show\b`),
	anchored(`ping\b`),
	anchored(`traceroute\b`),
	anchored(`terminal\b`),
	anchored(`write\s+memory\b`),
	anchored(`copy\s+running-config\s+startup-config\b`),
}

// cmeConfigRules cover the telephony configuration surface
var cmeConfigRules = []rule{
	// telephony-service
	negatable(`telephony-service\b`),
	negatable(`max-ephones\b`),
	negatable(`max-dn\b`),
	negatable(`ip\s+source-address\b`),
	negatable(`service\s+phone\b`),
	negatable(`auto\s+assign\b`),
	negatable(`auto-reg-ephone\b`),
	negatable(`create\s+cnf-files\b`),
	negatable(`reset\b`),
	negatable(`restart\b`),
	negatable(`system\s+message\b`),
	negatable(`url\b`),
	negatable(`time-zone\b`),
	negatable(`date-format\b`),
	negatable(`time-format\b`),
	negatable(`moh\b`),
	negatable(`multicast\s+moh\b`),
	negatable(`transfer-system\b`),
	negatable(`transfer-pattern\b`),
	negatable(`calling-number\s+initiator\b`),
	negatable(`keepalive\b`),
	negatable(`timeouts\b`),
	negatable(`directory\b`),
	negatable(`srst\b`),
	negatable(`load\b`),
	negatable(`cnf-file\b`),
	negatable(`network-locale\b`),
	negatable(`user-locale\b`),
	negatable(`web\s+admin\b`),

	// ephone
	negatable(`ephone\s+\d`),
	negatable(`ephone-dn\s+\d`),
	negatable(`ephone-template\s+\d`),
	negatable(`ephone-hunt\b`),
	negatable(`mac-address\b`),
	negatable(`type\b`),
	negatable(`button\b`),
	negatable(`speed-dial\b`),
	negatable(`fastdial\b`),
	negatable(`paging-dn\b`),
	negatable(`pickup-group\b`),
	negatable(`after-hours\b`),
	negatable(`pin\b`),
	negatable(`description\b`),
	negatable(`codec\b`),
	negatable(`max-calls-per-button\b`),
	negatable(`busy-trigger-per-button\b`),
	negatable(`softkeys\b`),
	negatable(`corlist\b`),

	// ephone-dn
	negatable(`number\b`),
	negatable(`name\b`),
	negatable(`label\b`),
	negatable(`preference\b`),
	negatable(`call-forward\b`),
	negatable(`huntstop\b`),
	negatable(`no-reg\b`),
	negatable(`translation-profile\b`),
	negatable(`hold-alert\b`),
	negatable(`caller-id\b`),
	negatable(`intercom\b`),
	negatable(`night-service\b`),

	negatable(`voice\s+register\b`),

	// dial-peer
	negatable(`dial-peer\s+voice\b`),
	negatable(`destination-pattern\b`),
	negatable(`session\s+protocol\b`),
	negatable(`session\s+target\b`),
	negatable(`dtmf-relay\b`),
	negatable(`incoming\s+called-number\b`),
	negatable(`port\b`),

	// voice translation
	negatable(`voice\s+translation-rule\b`),
	negatable(`voice\s+translation-profile\b`),
	negatable(`translate\b`),
	negatable(`rule\b`),

	// sip
	negatable(`voice\s+service\s+voip\b`),
	negatable(`sip\b`),
	negatable(`allow-connections\b`),
	negatable(`registrar\b`),

	// mode entry / exit
	anchored(`configure\s+terminal\b`),
	anchored(`end\b`),
	anchored(`exit\b`),

	negatable(`shutdown\b`),
	negatable(`no-auto-attendant\b`),
}

// maintenanceRules widen the config allow-list when maintenance mode is on
var maintenanceRules = []rule{
	negatable(`interface\b`),
	negatable(`ip\s+route\b`),
	negatable(`router\b`),
	negatable(`access-list\b`),
	negatable(`ip\s+access-list\b`),
	negatable(`ntp\b`),
	negatable(`logging\b`),
	negatable(`line\b`),
	negatable(`banner\b`),
	negatable(`ip\s+dhcp\b`),
	{
		re:     regexp.MustCompile(`(?i)^\s*(no\s+)?crypto\s+\S`),
		except: regexp.MustCompile(`(?i)^\s*(no\s+)?crypto\s+key\s+zeroize`),
	},
	negatable(`aaa\b`),
	negatable(`archive\b`),
	negatable(`debug\b`),
	negatable(`ip\s+address\b`),
}
