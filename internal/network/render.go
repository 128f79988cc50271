package network

import (
	"fmt"
	"strings"

	"github.com/notdabob/proxmox-ve-toolkit/internal/config"
)

// Bond parameters for the migration fabric. Jumbo frames plus layer2+3
// hashing is what lets the bulk rsync saturate both links.
const (
	bondName   = "bond0"
	bridgeName = "vmbr0"
	bondMTU    = 9000
)

// RenderBondInterfaces renders the complete /etc/network/interfaces content
// for a node: each physical interface as a manual slave, an 802.3ad bond
// over all of them, and the primary bridge on top carrying the node
// address. The output is a pure function of the node, which makes the
// apply step safely re-runnable.
func RenderBondInterfaces(node config.Node) string {
	var b strings.Builder

	b.WriteString("auto lo\n")
	b.WriteString("iface lo inet loopback\n\n")

	for _, iface := range node.Interfaces {
		fmt.Fprintf(&b, "auto %s\n", iface)
		fmt.Fprintf(&b, "iface %s inet manual\n", iface)
		fmt.Fprintf(&b, "    mtu %d\n\n", bondMTU)
	}

	fmt.Fprintf(&b, "auto %s\n", bondName)
	fmt.Fprintf(&b, "iface %s inet manual\n", bondName)
	fmt.Fprintf(&b, "    bond-slaves %s\n", strings.Join(node.Interfaces, " "))
	b.WriteString("    bond-mode 802.3ad\n")
	b.WriteString("    bond-miimon 100\n")
	b.WriteString("    bond-lacp-rate fast\n")
	b.WriteString("    bond-xmit-hash-policy layer2+3\n")
	fmt.Fprintf(&b, "    mtu %d\n\n", bondMTU)

	fmt.Fprintf(&b, "auto %s\n", bridgeName)
	fmt.Fprintf(&b, "iface %s inet static\n", bridgeName)
	fmt.Fprintf(&b, "    address %s/24\n", node.Address)
	fmt.Fprintf(&b, "    gateway %s\n", gatewayFor(node.Address))
	fmt.Fprintf(&b, "    bridge-ports %s\n", bondName)
	b.WriteString("    bridge-stp off\n")
	b.WriteString("    bridge-fd 0\n")
	fmt.Fprintf(&b, "    mtu %d\n", bondMTU)

	return b.String()
}

// gatewayFor assumes the /24 convention of the fixed topology: the gateway
// is host .1 of the node's subnet.
func gatewayFor(address string) string {
	parts := strings.Split(address, ".")
	if len(parts) != 4 {
		return address
	}
	return strings.Join(append(parts[:3], "1"), ".")
}
