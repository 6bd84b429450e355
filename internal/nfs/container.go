package nfs

import (
	"fmt"
	"strings"
)

// ConfDir is where the SDK keeps Ganesha configuration.
const ConfDir = "${AVOCADO_SDK_PREFIX}/etc/avocado"

// ContainerArgs are the extra container flags the in-container server
// needs. With host networking unavailable (Docker Desktop) the port is
// published explicitly.
func ContainerArgs(port int, hostNetwork bool) []string {
	args := []string{"--cap-add", "DAC_READ_SEARCH", "--init"}
	if hostNetwork {
		return append([]string{"--net=host"}, args...)
	}
	p := fmt.Sprintf("%d:%d", port, port)
	return append([]string{"-p", p}, args...)
}

// ContainerScript renders the SDK container command that writes one
// exports.d/<ext>.conf fragment per export plus a combined ganesha.conf,
// then runs ganesha.nfsd in the foreground.
func ContainerScript(c *Config) string {
	var b strings.Builder
	b.WriteString("set -e\n")
	b.WriteString("ln -sf ${AVOCADO_SDK_PREFIX}/etc/netconfig /etc/netconfig 2>/dev/null || true\n")
	fmt.Fprintf(&b, "mkdir -p %s/exports.d /var/run/ganesha\n", ConfDir)
	fmt.Fprintf(&b, "rm -f %s/exports.d/*.conf\n", ConfDir)

	for _, e := range c.Exports {
		name := strings.TrimPrefix(e.Pseudo, "/")
		fmt.Fprintf(&b, "mkdir -p %q\n", e.Path)
		fmt.Fprintf(&b, "cat > %s/exports.d/%s.conf << 'EXPORT_EOF'\n%sEXPORT_EOF\n", ConfDir, name, e.Block())
		if c.Verbose {
			fmt.Fprintf(&b, "echo \"[DEBUG] Created NFS export for extension '%s' with Export_Id %d at %s\"\n", name, e.ID, e.Path)
		}
	}

	fmt.Fprintf(&b, "cat > %s/ganesha.conf << 'GANESHA_EOF'\n%sGANESHA_EOF\n", ConfDir, c.Render())
	fmt.Fprintf(&b, "echo \"[INFO] NFS server listening on port %d with %d export(s).\"\n", c.Port, len(c.Exports))
	fmt.Fprintf(&b, "exec ganesha.nfsd -F -L /dev/stderr -f %s/ganesha.conf -p /var/run/ganesha/ganesha.pid\n", ConfDir)
	return b.String()
}
