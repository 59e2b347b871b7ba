package iosparse_test

// Captured from a CISCO2901 running CME 4.8; trimmed where noted.

const showVersion = `Cisco IOS Software, C2900 Software (C2900-UNIVERSALK9-M), Version 15.7(3)M8, RELEASE SOFTWARE (fc1)
Technical Support: http://www.cisco.com/techsupport
Copyright (c) 1986-2021 by Cisco Systems, Inc.

ROM: System Bootstrap, Version 15.0(1r)M16, RELEASE SOFTWARE (fc1)

Router uptime is 14 days, 3 hours, 22 minutes
System returned to ROM by power-on
System image file is "flash:c2900-universalk9-mz.SPA.157-3.M8.bin"

Cisco CISCO2901/K9 (revision 1.0) with 491520K/32768K bytes of memory.
Processor board ID FTX1234A5BC
2 Gigabit Ethernet interfaces
255K bytes of non-volatile configuration memory.
250880K bytes of ATA System CompactFlash 0 (Read/Write)

Configuration register is 0x2102
`

const showTelephonyService = `CONFIG (Version=4.8(1))
=====================
Cisco Unified Communications Manager Express

For different models different limit is applicable. Verify using show telephony-service all.
ip source-address 10.20.102.11 port 2000
max-ephones 48
max-dn 144
max-conferences 8 gain -6
transfer-system full-consult
Keepalive: 30
url services = http://10.20.102.1/services
`

const showEphoneSummary = `ephone-1[0] Mac:000D.2932.22A0 TCP socket:[4] activeLine:0 whisperLine:0 REGISTERED in SCCP ver 11/9
mediaActive:0 whisper_mediaActive:0 startMedia:0 offhook:0 ringing:0 reset:0 reset_sent:0 debug:0  primary_dn: 1*
IP:10.20.102.20 * Telecaster 7960  keepalive 8052 max_line 6

ephone-2[1] Mac:64D9.8969.51A0 TCP socket:[3] activeLine:0 whisperLine:0 REGISTERED in SCCP ver 20/17
mediaActive:0 whisper_mediaActive:0 startMedia:0 offhook:0 ringing:0 reset:0 reset_sent:0 debug:0  primary_dn: 2*
IP:10.20.102.21 * 7945  keepalive 8023 max_line 6

ephone-3[2] Mac:1234.5678.9AB2 TCP socket:[-1] activeLine:0 whisperLine:0 UNREGISTERED
mediaActive:0 whisper_mediaActive:0 startMedia:0 offhook:0 ringing:0 reset:0 reset_sent:0 debug:0  primary_dn: 3
IP:0.0.0.0* Unknown 0  keepalive 0
`

const showEphoneDetail = `ephone-1[0] Mac:000D.2932.22A0 TCP socket:[4] activeLine:0 whisperLine:0 REGISTERED in SCCP ver 11/9
IP:10.20.102.20 * 50406 Telecaster 7960  keepalive 8642 max_line 6 available_line 1
button 1: cw:1 ccw:(0 0)
  dn 1  number 4002 CH1   IDLE         CH2   IDLE
speed dial 2:4001 Zoe Bedroom
speed dial 3:4003 Alex Bedroom
Preferred Codec: g711ulaw

ephone-2[1] Mac:64D9.8969.51A0 TCP socket:[3] activeLine:0 whisperLine:0 REGISTERED in SCCP ver 20/17
IP:10.20.102.21 * 52434 7965  keepalive 8610 max_line 6 available_line 1
button 1: cw:1 ccw:(0 0)
  dn 2  number 4001 CH1   IDLE         CH2   IDLE
speed dial 2:4003 Alex Bedroom
Preferred Codec: g711ulaw

Max 10, Registered 2, Unregistered 0, Deceased 0
`

const showEphoneDNSummary = `ephone-dn 1  number 1001  CH1  IDLE         ephone 1
ephone-dn 2  number 1002  CH1  IDLE         ephone 1
ephone-dn 3  number 1003  CH1  IDLE         ephone 2
`

const showRunSectionEphone = ` no auto-reg-ephone
 max-ephones 48
ephone-dn  1  dual-line
 number 4002
 label Rack Phone
ephone-dn  2  dual-line
 number 4001
 label Zoe Bedroom
ephone  1
 device-security-mode none
 mac-address 000D.2932.22A0
 speed-dial 2 4001 label "Zoe Bedroom"
 speed-dial 3 4003 label "Alex Bedroom"
 type 7960
 button  1:1
ephone  2
 device-security-mode none
 mac-address 64D9.8969.51A0
 speed-dial 2 4003 label "Alex Bedroom"
 type 7965
 button  1:2
`

const showRunSectionEphoneDN = `ephone-dn  1  dual-line
 number 4002
 label Rack Phone
ephone-dn  2  dual-line
 number 4001
 label Zoe Bedroom
`

const showRunningConfig = `Building configuration...

Current configuration : 8192 bytes
!
version 15.7
service timestamps debug datetime msec
no service password-encryption
!
hostname Router
!
telephony-service
 max-ephones 48
 max-dn 144
 ip source-address 10.20.102.11 port 2000
!
 create cnf-files version-stamp Jan 01 2023 00:00:00
ephone-dn 1
 number 1001
 name Phone 1
!
end
`
