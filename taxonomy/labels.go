package taxonomy

import "github.com/fleetvuln/fleetvuln"

// core holds labels observable on every supported platform.
var core = map[string]string{
	"MGMT_SSH_HTTP":  "SSH or HTTP(S) management plane configured",
	"MGMT_SNMP":      "SNMP agent enabled, any version",
	"MGMT_NETCONF":   "NETCONF or RESTCONF programmatic management enabled",
	"AAA_TACACS":     "AAA authentication against TACACS+ or RADIUS servers",
	"SYS_NTP":        "NTP client or server configured",
	"LOG_SYSLOG":     "remote syslog export configured",
	"SEC_ACL_INFRA":  "infrastructure ACLs applied to device-bound traffic",
	"SEC_CoPP":       "control-plane policing or protection configured",
	"DHCP_SERVER":    "DHCP server or relay agent enabled",
	"IPV6_ENABLED":   "IPv6 addressing or routing in use",
	"NAT_TRANSLATE":  "NAT or PAT translation configured",
	"CRYPTO_PKI":     "PKI trustpoints with certificate enrollment on the device",
}

var iosxe = build(fleetvuln.IOSXE, core, map[string]string{
	"WEB_UI":          "HTTP(S) web UI feature enabled",
	"ROUTING_BGP":     "BGP routing process configured",
	"ROUTING_OSPF":    "OSPF routing process configured",
	"ROUTING_EIGRP":   "EIGRP routing process configured",
	"MCAST_PIM":       "PIM multicast routing enabled",
	"L2_STP":          "spanning-tree operating on access or trunk ports",
	"L2_TRUNK_DOT1Q":  "802.1Q trunking configured on switchports",
	"HA_STACKWISE":    "StackWise or StackWise Virtual stacking in use",
	"QOS_MQC":         "modular QoS policies attached to interfaces",
	"VPN_IPSEC_IKEV2": "IKEv2/IPsec tunnels terminated on the device",
	"SDWAN_CEDGE":     "Catalyst SD-WAN controller-mode (cEdge) operation",
	"WLC_CAPWAP":      "embedded wireless controller terminating CAPWAP",
})

var iosxr = build(fleetvuln.IOSXR, core, map[string]string{
	"ROUTING_BGP":    "BGP routing process configured",
	"ROUTING_OSPF":   "OSPF routing process configured",
	"ROUTING_ISIS":   "IS-IS routing process configured",
	"ROUTING_BFD":    "BFD sessions protecting routing adjacencies",
	"MPLS_LDP":       "MPLS LDP label distribution enabled",
	"SEG_ROUTING":    "segment routing, SR-MPLS or SRv6, enabled",
	"L2VPN_EVPN":     "EVPN or L2VPN services configured",
	"TELEMETRY_GRPC": "gRPC model-driven telemetry or gNMI enabled",
	"MCAST_PIM":      "PIM multicast routing enabled",
	"QOS_MQC":        "modular QoS policies attached to interfaces",
})

var asa = build(fleetvuln.ASA, core, map[string]string{
	"VPN_ANYCONNECT":  "AnyConnect SSL VPN remote access enabled",
	"VPN_WEBVPN":      "clientless WebVPN portal enabled",
	"VPN_IPSEC_IKEV2": "IKEv2/IPsec site-to-site or remote-access tunnels",
	"FW_FAILOVER":     "active/standby or active/active failover pair",
	"FW_MPF_INSPECT":  "modular policy framework application inspection",
	"MGMT_ASDM":       "ASDM management over HTTPS enabled",
	"FW_THREAT_DET":   "threat detection statistics enabled",
})

var ftd = build(fleetvuln.FTD, core, map[string]string{
	"FTD_SNORT":       "Snort inspection engine in the traffic path",
	"FTD_SSL_DECRYPT": "SSL decryption policy applied",
	"VPN_ANYCONNECT":  "AnyConnect SSL VPN remote access enabled",
	"VPN_IPSEC_IKEV2": "IKEv2/IPsec site-to-site or remote-access tunnels",
	"FW_FAILOVER":     "high availability pair configured",
	"MGMT_FMC":        "managed by Firepower Management Center",
})

var nxos = build(fleetvuln.NXOS, core, map[string]string{
	"NXAPI_HTTP":   "NX-API management over HTTP(S) enabled",
	"L2_VPC":       "virtual port-channel (vPC) domain configured",
	"VXLAN_EVPN":   "VXLAN EVPN fabric member",
	"ROUTING_BGP":  "BGP routing process configured",
	"ROUTING_OSPF": "OSPF routing process configured",
	"MCAST_PIM":    "PIM multicast routing enabled",
	"L2_FEX":       "fabric extenders (FEX) attached",
	"SAN_FCOE":     "FCoE or SAN switching enabled",
	"POAP_ENABLED": "PowerOn Auto Provisioning active at boot",
})
