// FormWarden - Multi-Signal Form Abuse Detection
// Copyright 2026 FormWarden Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/formwarden/formwarden

package intel

import "net"

// datacenterCIDRs covers the major hosting providers. Traffic from a
// datacenter range is rarely a person filling in a contact form.
var datacenterCIDRs = []string{
	// AWS
	"3.0.0.0/8",
	"13.32.0.0/12",
	"18.128.0.0/9",
	"52.0.0.0/10",
	"54.64.0.0/11",
	// Google Cloud
	"34.64.0.0/10",
	"35.184.0.0/13",
	"104.154.0.0/15",
	"130.211.0.0/16",
	// Azure
	"13.64.0.0/11",
	"20.33.0.0/16",
	"40.64.0.0/10",
	"52.224.0.0/11",
	// DigitalOcean
	"64.225.0.0/16",
	"104.131.0.0/16",
	"134.209.0.0/16",
	"157.245.0.0/16",
	"167.99.0.0/16",
	// OVH
	"51.38.0.0/16",
	"51.68.0.0/16",
	"51.75.0.0/16",
	"145.239.0.0/16",
	// Hetzner
	"5.9.0.0/16",
	"78.46.0.0/15",
	"88.198.0.0/16",
	"116.202.0.0/16",
	// Linode
	"45.33.0.0/17",
	"50.116.0.0/18",
	"172.104.0.0/15",
	// Vultr
	"45.32.0.0/16",
	"45.63.0.0/16",
	"108.61.0.0/16",
	"149.28.0.0/16",
}

// vpnCIDRs covers commercial VPN egress ranges seen in form abuse.
var vpnCIDRs = []string{
	"5.157.0.0/18",    // NordVPN
	"37.120.128.0/17", // M247 (Mullvad, others)
	"45.80.0.0/15",
	"84.17.32.0/19", // Datacamp (ExpressVPN, others)
	"89.187.160.0/19",
	"138.199.0.0/17",
	"143.244.32.0/19",
	"185.159.156.0/22", // Proton
	"185.230.124.0/23",
	"193.32.248.0/22",
	"212.102.32.0/19",
}

func parseCIDRs(specs []string) []*net.IPNet {
	out := make([]*net.IPNet, 0, len(specs))
	for _, s := range specs {
		if _, ipnet, err := net.ParseCIDR(s); err == nil {
			out = append(out, ipnet)
		}
	}
	return out
}

// disposableDomains lists throwaway email providers beyond the regex-matched
// core set.
var disposableDomains = map[string]struct{}{
	"mailinator.com":    {},
	"guerrillamail.com": {},
	"guerrillamail.net": {},
	"10minutemail.com":  {},
	"10minutemail.net":  {},
	"tempmail.com":      {},
	"temp-mail.org":     {},
	"throwaway.email":   {},
	"yopmail.com":       {},
	"sharklasers.com":   {},
	"trashmail.com":     {},
	"getnada.com":       {},
	"maildrop.cc":       {},
	"dispostable.com":   {},
	"fakeinbox.com":     {},
	"mintemail.com":     {},
	"mytemp.email":      {},
	"tempinbox.com":     {},
	"spamgourmet.com":   {},
	"mailnesia.com":     {},
}

// suspiciousTLDs are top-level domains with disproportionate abuse rates,
// scored against email domains.
var suspiciousTLDs = map[string]struct{}{
	"tk": {}, "ml": {}, "ga": {}, "cf": {}, "gq": {},
	"top": {}, "xyz": {}, "click": {}, "loan": {}, "work": {},
}
