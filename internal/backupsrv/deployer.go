// Package backupsrv provisions the backup-server guest on the designated
// node. Installation completion inside the guest is out-of-band; this only
// gets the installer booted.
package backupsrv

import (
	"context"
	"fmt"

	"github.com/notdabob/proxmox-ve-toolkit/internal/config"
	"github.com/notdabob/proxmox-ve-toolkit/internal/logging"
	"github.com/notdabob/proxmox-ve-toolkit/internal/remote"
)

// DefaultISOURL is the backup-server installation image pulled onto the
// backup node's template storage.
const DefaultISOURL = "https://enterprise.proxmox.com/iso/proxmox-backup-server_3.2-1.iso"

const isoPath = "/var/lib/vz/template/iso/proxmox-backup-server.iso"

// Deployer provisions the backup-server guest.
type Deployer struct {
	Runner remote.Runner
	ISOURL string
}

// Deploy downloads the installation image, creates the guest with the
// configured id and memory, attaches the image as boot media, and starts
// it. No post-start verification is performed; the installer runs
// interactively on the guest console.
func (d *Deployer) Deploy(ctx context.Context, node config.Node, id, memoryMB int) error {
	log := logging.L().With("component", "backupsrv", "node", node.Name)

	url := d.ISOURL
	if url == "" {
		url = DefaultISOURL
	}

	log.Infow("downloading backup server image", "url", url)
	download := fmt.Sprintf("wget -q -O %s %s", isoPath, url)
	if _, stderr, err := d.Runner.Mutate(ctx, node.Address, download); err != nil {
		return fmt.Errorf("failed to download backup server image on %s: %w (stderr: %s)", node.Name, err, stderr)
	}

	log.Infow("creating backup server guest", "id", id, "memoryMB", memoryMB)
	create := fmt.Sprintf(
		"qm create %d --name backup-server --memory %d --net0 virtio,bridge=vmbr0 "+
			"--scsihw virtio-scsi-pci --scsi0 local-lvm:32 "+
			"--ide2 local:iso/proxmox-backup-server.iso,media=cdrom --boot order=ide2 --ostype l26",
		id, memoryMB)
	if _, stderr, err := d.Runner.Mutate(ctx, node.Address, create); err != nil {
		return fmt.Errorf("failed to create backup server guest %d on %s: %w (stderr: %s)", id, node.Name, err, stderr)
	}

	if _, stderr, err := d.Runner.Mutate(ctx, node.Address, fmt.Sprintf("qm start %d", id)); err != nil {
		return fmt.Errorf("failed to start backup server guest %d on %s: %w (stderr: %s)", id, node.Name, err, stderr)
	}

	log.Infow("backup server guest started; complete the installation on its console", "id", id)
	return nil
}
