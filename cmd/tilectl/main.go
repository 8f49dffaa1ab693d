// tilectl rings, silences and locates Tile trackers over BLE without the
// vendor app. Auth keys come from a local config file or the Tile account.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/urfave/cli"

	"github.com/ringfinder/tile"
	"github.com/ringfinder/tile/authcache"
	"github.com/ringfinder/tile/cloud"
	"github.com/ringfinder/tile/driver/tinygo"
)

func main() {
	app := cli.NewApp()
	app.Name = "tilectl"
	app.Usage = "ring and locate Tile trackers over BLE"
	app.Flags = []cli.Flag{
		cli.StringFlag{Name: "config, c", Usage: "path to yaml config `FILE`"},
		cli.BoolFlag{Name: "verbose, v", Usage: "trace protocol traffic"},
	}
	app.Before = func(c *cli.Context) error {
		if c.GlobalBool("verbose") {
			tile.SetLogLevelMax()
		}
		return nil
	}

	app.Commands = []cli.Command{
		{
			Name:      "derive",
			Usage:     "print the BLE address derived from a tile ID",
			ArgsUsage: "TILE_ID",
			Action:    cmdDerive,
		},
		{
			Name:   "tiles",
			Usage:  "list the account's tiles and their product codes",
			Action: cmdTiles,
		},
		{
			Name:  "scan",
			Usage: "scan for nearby devices advertising the Tile service",
			Flags: []cli.Flag{
				cli.DurationFlag{Name: "timeout", Value: 15 * time.Second},
			},
			Action: cmdScan,
		},
		{
			Name:   "diagnose",
			Usage:  "match scanned addresses against the account's tile IDs",
			Action: cmdDiagnose,
		},
		{
			Name:      "ring",
			Usage:     "ring a tile",
			ArgsUsage: "TILE_NAME_OR_ID",
			Flags: []cli.Flag{
				cli.StringFlag{Name: "volume", Value: "med", Usage: "low, med or high"},
				cli.IntFlag{Name: "duration", Value: 30, Usage: "ring duration in `SECONDS`"},
			},
			Action: cmdRing,
		},
		{
			Name:      "stop",
			Usage:     "silence a ringing tile",
			ArgsUsage: "TILE_NAME_OR_ID",
			Action:    cmdStop,
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "tilectl:", err)
		os.Exit(1)
	}
}

func cmdDerive(c *cli.Context) error {
	if c.NArg() != 1 {
		return cli.NewExitError("usage: tilectl derive TILE_ID", 2)
	}
	a, err := tile.DeriveAddr(c.Args().First())
	if err != nil {
		return err
	}
	fmt.Println(a)
	return nil
}

func cmdTiles(c *cli.Context) error {
	cfg, err := loadConfig(c.GlobalString("config"))
	if err != nil {
		return err
	}
	tiles, err := accountTiles(cfg)
	if err != nil {
		return err
	}
	for _, t := range tiles {
		addr, _ := tile.DeriveAddr(t.ID)
		fmt.Printf("%-20s %s  %s  %s\n", t.Name, t.ID, t.ProductCode, addr)
	}
	return nil
}

func cmdScan(c *cli.Context) error {
	d, err := tinygo.New()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), c.Duration("timeout"))
	defer cancel()

	ch, err := d.Scan(ctx)
	if err != nil {
		return err
	}
	seen := map[string]bool{}
	for a := range ch {
		if !a.HasService(tile.ServiceUUID) || seen[a.Addr.String()] {
			continue
		}
		seen[a.Addr.String()] = true
		fmt.Printf("%s  rssi %4d  %q\n", a.Addr, a.RSSI, a.LocalName)
	}
	return nil
}

func cmdDiagnose(c *cli.Context) error {
	cfg, err := loadConfig(c.GlobalString("config"))
	if err != nil {
		return err
	}
	tiles, err := accountTiles(cfg)
	if err != nil {
		return err
	}

	var ids []string
	names := map[string]string{}
	for _, t := range tiles {
		ids = append(ids, t.ID)
		names[t.ID] = t.Name
	}

	client, err := newClient(cfg)
	if err != nil {
		return err
	}
	found, err := client.DiagnoseAddrs(context.Background(), ids)
	if err != nil {
		return err
	}
	for addr, id := range found {
		if id == "" {
			fmt.Printf("%s  (tile service, no derived-address match)\n", addr)
			continue
		}
		fmt.Printf("%s  -> %s (%s)\n", addr, id, names[id])
	}
	return nil
}

func cmdRing(c *cli.Context) error {
	cfg, err := loadConfig(c.GlobalString("config"))
	if err != nil {
		return err
	}
	id, key, err := resolveTile(cfg, c.Args().First())
	if err != nil {
		return err
	}
	vol, err := tile.ParseVolume(c.String("volume"))
	if err != nil {
		return err
	}

	client, err := newClient(cfg)
	if err != nil {
		return err
	}

	err = client.Ring(context.Background(), id, key, vol, c.Int("duration"))
	if _, ok := err.(*tile.UnsupportedFeatureError); ok {
		return cli.NewExitError("this tile's firmware does not ring over BLE; use the Tile app or cloud API", 3)
	}
	if err != nil {
		return err
	}
	fmt.Println("ringing")
	return nil
}

func cmdStop(c *cli.Context) error {
	cfg, err := loadConfig(c.GlobalString("config"))
	if err != nil {
		return err
	}
	id, key, err := resolveTile(cfg, c.Args().First())
	if err != nil {
		return err
	}

	client, err := newClient(cfg)
	if err != nil {
		return err
	}
	if err := client.StopRing(context.Background(), id, key); err != nil {
		return err
	}
	fmt.Println("stopped")
	return nil
}

func newClient(cfg *config) (*tile.Client, error) {
	d, err := tinygo.New()
	if err != nil {
		return nil, err
	}

	opts := []tile.Option{}
	if cfg.Options.ScanTimeout > 0 {
		opts = append(opts, tile.WithScanTimeout(cfg.Options.ScanTimeout))
	}
	if cfg.Options.CacheFile != "" {
		opts = append(opts, tile.WithStrategyCache(authcache.New(cfg.Options.CacheFile)))
	}
	return tile.NewClient(d, opts...)
}

// resolveTile finds a tile's ID and auth key: config first, account second.
func resolveTile(cfg *config, nameOrID string) (string, []byte, error) {
	if nameOrID == "" {
		return "", nil, cli.NewExitError("a tile name or ID is required", 2)
	}

	if entry, ok := cfg.lookupTile(nameOrID); ok && entry.AuthKey != "" {
		key, err := decodeKey(entry.AuthKey)
		return entry.ID, key, err
	}

	tiles, err := accountTiles(cfg)
	if err != nil {
		return "", nil, err
	}
	for _, t := range tiles {
		if t.Name == nameOrID || t.ID == nameOrID {
			return t.ID, t.AuthKey, nil
		}
	}
	return "", nil, fmt.Errorf("tile %q not found in config or account", nameOrID)
}

func accountTiles(cfg *config) ([]cloud.Tile, error) {
	if cfg.Account.Email == "" {
		return nil, fmt.Errorf("no account credentials in config and no local auth key available")
	}
	api := cloud.NewClient(cfg.Account.Email, cfg.Account.Password)
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	if err := api.Login(ctx); err != nil {
		return nil, err
	}
	return api.Tiles(ctx)
}
