package device

import (
	"fmt"
	"net"
	"strings"

	"github.com/banshee-data/inspec/internal/shortrange"
	"github.com/banshee-data/inspec/internal/version"
)

// registerCommands installs the inbound command table on the link. Replies
// go back over the short-range link only; they are not broadcast.
func (d *Device) registerCommands() {
	d.link.Handle(shortrange.CmdRequestImage, func(shortrange.Command) error {
		return d.pushImage()
	})

	d.link.Handle(shortrange.CmdRequestDirectories, func(shortrange.Command) error {
		var ids []string
		if d.sessions != nil {
			var err error
			if ids, err = d.sessions.SessionIDs(); err != nil {
				return fmt.Errorf("list sessions: %w", err)
			}
		}
		d.link.Event("directories", strings.Join(ids, ","))
		return nil
	})

	d.link.Handle(shortrange.CmdRequestDirectory, func(c shortrange.Command) error {
		if d.sessions == nil {
			return fmt.Errorf("request.directory:%s: session logging disabled", c.Arg)
		}
		data, err := d.sessions.Export(c.Arg)
		if err != nil {
			return fmt.Errorf("export %s: %w", c.Arg, err)
		}
		return d.link.SendBulk(shortrange.BulkConfigFile, data)
	})

	d.link.Handle(shortrange.CmdRequestIP, func(shortrange.Command) error {
		ip := d.ip
		if ip == "" {
			ip = LocalIP()
		}
		d.link.Event("ip", ip)
		return nil
	})

	d.link.Handle(shortrange.CmdRequestVersion, func(shortrange.Command) error {
		d.link.Event("version", version.String())
		return nil
	})

	d.link.Handle(shortrange.CmdRequestErrors, func(shortrange.Command) error {
		for _, msg := range d.errs.Recent() {
			d.link.Event("error", msg)
		}
		return nil
	})

	d.link.Handle(shortrange.CmdUpdateSetting, func(c shortrange.Command) error {
		return d.UpdateSetting(c.Setting, c.Value)
	})

	d.link.Handle(shortrange.CmdFlashLEDs, func(shortrange.Command) error {
		d.indicator.Flash(PatternFromSettings(d.settings))
		return nil
	})

	d.link.Handle(shortrange.CmdRestart, func(shortrange.Command) error {
		d.restart = true
		return nil
	})
}

// LocalIP returns the first non-loopback IPv4 address of the host, or
// 0.0.0.0 when there is none.
func LocalIP() string {
	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return "0.0.0.0"
	}
	for _, a := range addrs {
		ipnet, ok := a.(*net.IPNet)
		if !ok || ipnet.IP.IsLoopback() {
			continue
		}
		if v4 := ipnet.IP.To4(); v4 != nil {
			return v4.String()
		}
	}
	return "0.0.0.0"
}
