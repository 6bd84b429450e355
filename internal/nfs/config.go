// Package nfs serves extension sysroots over NFS-Ganesha for
// hardware-in-the-loop testing.
package nfs

import (
	"fmt"
	"path"
	"strings"
)

// Export is one Ganesha EXPORT block.
type Export struct {
	ID     int
	Path   string
	Pseudo string
}

// Block renders the EXPORT block.
func (e Export) Block() string {
	return fmt.Sprintf(`EXPORT {
  Export_Id = %d;
  Path = %s;
  Pseudo = %s;
  FSAL {
    name = VFS;
  }
}
`, e.ID, e.Path, e.Pseudo)
}

// Config is a complete Ganesha server configuration.
type Config struct {
	Port     int
	BindAddr string
	Verbose  bool
	Exports  []Export
}

// NewConfig returns a configuration listening on all interfaces.
func NewConfig(port int) *Config {
	return &Config{Port: port, BindAddr: "0.0.0.0"}
}

// AddExport appends an export with the next id, starting at 1.
func (c *Config) AddExport(localPath, pseudo string) *Config {
	c.Exports = append(c.Exports, Export{ID: len(c.Exports) + 1, Path: localPath, Pseudo: pseudo})
	return c
}

// AddExtensions exports each extension sysroot under root as /<ext>.
func (c *Config) AddExtensions(root string, exts []string) *Config {
	for _, ext := range exts {
		c.AddExport(path.Join(root, ext), "/"+ext)
	}
	return c
}

// Core renders everything except the EXPORT blocks.
func (c *Config) Core() string {
	level := "EVENT"
	if c.Verbose {
		level = "DEBUG"
	}
	bind := c.BindAddr
	if bind == "" {
		bind = "0.0.0.0"
	}
	return fmt.Sprintf(`LOG {
  Default_Log_Level = %s;
}

NFS_Core_Param {
  NFS_Port = %d;
  Enable_NLM = false;
  Enable_RQUOTA = false;
  Enable_UDP = false;
  Protocols = 4;
  allow_set_io_flusher_fail = true;
  Bind_addr = %s;
}

NFSV4 {
  Graceless = true;
  Allow_Numeric_Owners = true;
  Only_Numeric_Owners = true;
}

EXPORT_DEFAULTS {
  Access_Type = RW;
  Squash = No_Root_Squash;
  Transports = TCP;
  Protocols = 4;
  SecType = none;
  Disable_ACL = true;
  Manage_Gids = false;

  CLIENT {
    Clients = *;
    Access_Type = RW;
  }
}
`, level, c.Port, bind)
}

// Render returns the combined ganesha.conf.
func (c *Config) Render() string {
	var b strings.Builder
	b.WriteString("# Generated by avocado hitl server\n")
	b.WriteString(c.Core())
	for _, e := range c.Exports {
		b.WriteByte('\n')
		b.WriteString(e.Block())
	}
	return b.String()
}
