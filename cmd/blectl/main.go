// Command blectl drives a running graylogic-ble daemon over its REST API.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/urfave/cli"

	"github.com/nerrad567/gray-logic-ble/internal/api"
	"github.com/nerrad567/gray-logic-ble/internal/auth"
)

// version is set at build time via -ldflags.
var version = "dev"

const (
	defaultAPIURL   = "http://127.0.0.1:8080"
	defaultSubject  = "blectl"
	defaultTokenTTL = time.Hour
)

func main() {
	app := newApp()
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, Red(err.Error()))
		os.Exit(1)
	}
}

func newApp() *cli.App {
	app := cli.NewApp()
	app.Name = "blectl"
	app.Usage = "control the Gray Logic Bluetooth LE link manager"
	app.Version = version
	app.Flags = []cli.Flag{
		cli.StringFlag{
			Name:   "api",
			Value:  defaultAPIURL,
			Usage:  "Base URL of the daemon",
			EnvVar: "GRAYLOGIC_API_URL",
		},
		cli.StringFlag{
			Name:   "token",
			Usage:  "Bearer token (see \"blectl token\")",
			EnvVar: "GRAYLOGIC_TOKEN",
		},
	}
	app.Commands = []cli.Command{
		cli.Command{
			Name:   "status",
			Usage:  "Print adapter, scan and auto-pairing state",
			Action: statusCommand,
		},
		cli.Command{
			Name:  "scan",
			Usage: "Control device discovery",
			Subcommands: []cli.Command{
				cli.Command{
					Name:   "start",
					Usage:  "Start scanning",
					Action: scanStartCommand,
				},
				cli.Command{
					Name:   "stop",
					Usage:  "Stop scanning",
					Action: scanStopCommand,
				},
				cli.Command{
					Name:   "list",
					Usage:  "List devices discovered by the current scan",
					Action: scanListCommand,
				},
			},
		},
		cli.Command{
			Name:      "connect",
			Usage:     "Connect to a device",
			ArgsUsage: "<device-id> [name]",
			Action:    connectCommand,
		},
		cli.Command{
			Name:      "disconnect",
			Usage:     "Disconnect a device",
			ArgsUsage: "<device-id>",
			Action:    disconnectCommand,
		},
		cli.Command{
			Name:   "disconnect-all",
			Usage:  "Disconnect every connected device",
			Action: disconnectAllCommand,
		},
		cli.Command{
			Name:   "connected",
			Usage:  "List connected devices",
			Action: connectedCommand,
		},
		cli.Command{
			Name:   "saved",
			Usage:  "List saved devices",
			Action: savedCommand,
		},
		cli.Command{
			Name:   "autopair",
			Usage:  "Start or stop an auto-pairing round",
			Action: autopairCommand,
		},
		cli.Command{
			Name:  "token",
			Usage: "Mint an access token signed with the daemon's JWT secret",
			Flags: []cli.Flag{
				cli.StringFlag{
					Name:   "secret",
					Usage:  "JWT signing secret",
					EnvVar: "GRAYLOGIC_JWT_SECRET",
				},
				cli.StringFlag{
					Name:  "role, r",
					Value: string(auth.RoleOperator),
					Usage: "Role claim (viewer or operator)",
				},
				cli.StringFlag{
					Name:  "subject, s",
					Value: defaultSubject,
					Usage: "Subject claim",
				},
				cli.DurationFlag{
					Name:  "ttl",
					Value: defaultTokenTTL,
					Usage: "Token lifetime",
				},
			},
			Action: tokenCommand,
		},
	}
	return app
}

func apiClient(c *cli.Context) *client {
	return newClient(c.GlobalString("api"), c.GlobalString("token"))
}

func out(c *cli.Context) io.Writer {
	return c.App.Writer
}

func statusCommand(c *cli.Context) (err error) {
	ctx := context.Background()
	cl := apiClient(c)

	var adapter struct {
		State      string   `json:"state"`
		Usable     bool     `json:"usable"`
		Scanning   bool     `json:"scanning"`
		ScanOwners []string `json:"scan_owners"`
		Connecting bool     `json:"connecting"`
	}
	if err = cl.get(ctx, "/adapter", &adapter); err != nil {
		return err
	}
	var autopair struct {
		AutoPairing bool `json:"auto_pairing"`
	}
	if err = cl.get(ctx, "/autopair", &autopair); err != nil {
		return err
	}

	w := out(c)
	state := Green(adapter.State)
	if !adapter.Usable {
		state = Red(adapter.State)
	}
	fmt.Fprintf(w, "adapter:      %s\n", state)
	fmt.Fprintf(w, "scanning:     %s\n", onOff(adapter.Scanning))
	if len(adapter.ScanOwners) > 0 {
		fmt.Fprintf(w, "scan owners:  %s\n", strings.Join(adapter.ScanOwners, ", "))
	}
	fmt.Fprintf(w, "auto-pairing: %s\n", onOff(autopair.AutoPairing))
	if adapter.Connecting {
		fmt.Fprintln(w, Yellow("a connection attempt is in progress"))
	}
	return nil
}

func scanStartCommand(c *cli.Context) (err error) {
	if err = apiClient(c).post(context.Background(), "/scan/start", nil, nil); err != nil {
		return err
	}
	fmt.Fprintln(out(c), Green("Scanning started."))
	return nil
}

func scanStopCommand(c *cli.Context) (err error) {
	if err = apiClient(c).post(context.Background(), "/scan/stop", nil, nil); err != nil {
		return err
	}
	fmt.Fprintln(out(c), "Scanning stopped.")
	return nil
}

func scanListCommand(c *cli.Context) (err error) {
	var list deviceList
	if err = apiClient(c).get(context.Background(), "/scan/devices", &list); err != nil {
		return err
	}
	if !list.Scanning {
		fmt.Fprintln(out(c), Yellow("Not scanning; showing the last results."))
	}
	return printDevices(out(c), list.Devices)
}

func connectCommand(c *cli.Context) (err error) {
	id := c.Args().Get(0)
	if id == "" {
		return errors.New("usage: blectl connect <device-id> [name]")
	}

	var resp struct {
		DeviceID string `json:"device_id"`
		Outcome  string `json:"outcome"`
		Notice   string `json:"notice"`
	}
	req := api.ConnectRequest{Name: c.Args().Get(1)}
	if err = apiClient(c).post(context.Background(), "/devices/"+id+"/connect", req, &resp); err != nil {
		return err
	}

	fmt.Fprintf(out(c), "%s %s\n", Cyan(resp.DeviceID), Green(resp.Outcome))
	if resp.Notice != "" {
		fmt.Fprintln(out(c), Yellow(resp.Notice))
	}
	return nil
}

func disconnectCommand(c *cli.Context) (err error) {
	id := c.Args().Get(0)
	if id == "" {
		return errors.New("usage: blectl disconnect <device-id>")
	}
	var resp struct {
		DeviceID string `json:"device_id"`
	}
	if err = apiClient(c).post(context.Background(), "/devices/"+id+"/disconnect", nil, &resp); err != nil {
		return err
	}
	fmt.Fprintf(out(c), "%s disconnected\n", Cyan(resp.DeviceID))
	return nil
}

func disconnectAllCommand(c *cli.Context) (err error) {
	var resp struct {
		Connected int `json:"connected"`
	}
	if err = apiClient(c).post(context.Background(), "/devices/disconnect-all", nil, &resp); err != nil {
		return err
	}
	if resp.Connected > 0 {
		fmt.Fprintln(out(c), Yellow(fmt.Sprintf("%d device(s) still connected", resp.Connected)))
		return nil
	}
	fmt.Fprintln(out(c), Green("All devices disconnected."))
	return nil
}

func connectedCommand(c *cli.Context) (err error) {
	var list deviceList
	if err = apiClient(c).get(context.Background(), "/devices/connected", &list); err != nil {
		return err
	}
	return printDevices(out(c), list.Devices)
}

func savedCommand(c *cli.Context) (err error) {
	var list deviceList
	if err = apiClient(c).get(context.Background(), "/devices/saved", &list); err != nil {
		return err
	}
	return printDevices(out(c), list.Devices)
}

func autopairCommand(c *cli.Context) (err error) {
	var resp struct {
		AutoPairing bool `json:"auto_pairing"`
	}
	if err = apiClient(c).post(context.Background(), "/autopair/toggle", nil, &resp); err != nil {
		return err
	}
	fmt.Fprintf(out(c), "auto-pairing: %s\n", onOff(resp.AutoPairing))
	return nil
}

func tokenCommand(c *cli.Context) (err error) {
	secret := c.String("secret")
	if secret == "" {
		return errors.New("a signing secret is required (--secret or GRAYLOGIC_JWT_SECRET)")
	}
	token, err := auth.GenerateAccessToken(c.String("subject"), auth.Role(c.String("role")), secret, c.Duration("ttl"))
	if err != nil {
		return err
	}
	fmt.Fprintln(out(c), token)
	return nil
}

func printDevices(w io.Writer, devices []api.DeviceView) error {
	if len(devices) == 0 {
		fmt.Fprintln(w, "No devices.")
		return nil
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tSTATE\tRSSI\tSAVED")
	for _, d := range devices {
		rssi := "-"
		if d.RSSI != nil {
			rssi = fmt.Sprintf("%d", *d.RSSI)
		}
		saved := ""
		if d.Saved {
			saved = "yes"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", d.ID, d.DisplayName, d.State, rssi, saved)
	}
	return tw.Flush()
}

func onOff(b bool) string {
	if b {
		return Green("on")
	}
	return "off"
}
