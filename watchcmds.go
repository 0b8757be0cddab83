package main

import (
	"context"
	"fmt"

	"github.com/urfave/cli/v3"
)

func GetWatchCmdOpts() *cli.Command {
	idFlags := []cli.Flag{
		&cli.StringFlag{
			Name:  "kind",
			Usage: "What the id is - ad or contract",
			Value: "contract",
		},
		&cli.UintFlag{
			Name:     "id",
			Usage:    "Application id to watch",
			Required: true,
		},
	}
	return &cli.Command{
		Name:    "watch",
		Aliases: []string{"w"},
		Usage:   "Manage ads and contracts the daemon reconciles beyond those the marketplace lists",
		Commands: []*cli.Command{
			{
				Name:   "add",
				Usage:  "Add an ad or contract to the watch list",
				Action: WatchAdd,
				Flags:  idFlags,
			},
			{
				Name:   "remove",
				Usage:  "Remove an ad or contract from the watch list",
				Action: WatchRemove,
				Flags:  idFlags,
			},
			{
				Name:    "list",
				Aliases: []string{"l"},
				Usage:   "Show the watch list",
				Action:  ShowWatchList,
			},
		},
	}
}

func WatchAdd(ctx context.Context, command *cli.Command) error {
	watched, err := LoadWatchList()
	if err != nil {
		return err
	}
	kind, id := command.String("kind"), command.Value("id").(uint64)
	// make sure it exists before saving it
	switch kind {
	case "ad":
		_, err = App.market.Loop().RefreshAd(ctx, id)
	case "contract":
		_, err = App.market.TrackContract(ctx, id)
	}
	if err != nil {
		return fmt.Errorf("unable to read %s %d: %w", kind, id, err)
	}
	added, err := watched.Add(kind, id)
	if err != nil {
		return err
	}
	if !added {
		fmt.Printf("%s %d is already watched\n", kind, id)
		return nil
	}
	return SaveWatchList(watched)
}

func WatchRemove(ctx context.Context, command *cli.Command) error {
	watched, err := LoadWatchList()
	if err != nil {
		return err
	}
	kind, id := command.String("kind"), command.Value("id").(uint64)
	removed, err := watched.Remove(kind, id)
	if err != nil {
		return err
	}
	if !removed {
		fmt.Printf("%s %d isn't watched\n", kind, id)
		return nil
	}
	return SaveWatchList(watched)
}

func ShowWatchList(ctx context.Context, command *cli.Command) error {
	watched, err := LoadWatchList()
	if err != nil {
		return err
	}
	fmt.Printf("Ads: %v\n", watched.Ads)
	fmt.Printf("Contracts: %v\n", watched.Contracts)
	return nil
}
