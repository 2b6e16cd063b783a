package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"syncplayer/internal/database"
	"syncplayer/pkg/types"
)

// seedStore is the write surface the seed command needs.
type seedStore interface {
	UpsertAccount(ctx context.Context, a types.Account, token string) error
	UpsertTrack(ctx context.Context, t types.Track) error
}

type seedUser struct {
	ID           string `mapstructure:"id"`
	Name         string `mapstructure:"name"`
	Email        string `mapstructure:"email"`
	ProfileImage string `mapstructure:"profile_image"`
	Token        string `mapstructure:"token"`
}

type seedSong struct {
	ID     string  `mapstructure:"id"`
	Title  string  `mapstructure:"title"`
	Artist string  `mapstructure:"artist"`
	Length float64 `mapstructure:"length"`
	URL    string  `mapstructure:"url"`
	Cover  string  `mapstructure:"cover"`
}

type seedData struct {
	Users []seedUser `mapstructure:"users"`
	Songs []seedSong `mapstructure:"songs"`
}

func newSeedCmd(c *cli) *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Load accounts and songs from a data file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := database.Migrate(c.cfg.Database, "up"); err != nil {
				return err
			}
			db, err := database.NewManager(c.cfg.Database, c.log)
			if err != nil {
				return err
			}
			defer db.Close()

			users, songs, err := seedFile(cmd.Context(), db, file)
			if err != nil {
				return err
			}
			c.log.Info().Int("users", users).Int("songs", songs).Str("file", file).Msg("seed data loaded")
			return nil
		},
	}
	cmd.Flags().StringVar(&file, "file", "", "seed data file (yaml, json or toml)")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

// seedFile upserts every user and song in path. Entries without an id are
// rejected before anything is written.
func seedFile(ctx context.Context, store seedStore, path string) (int, int, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return 0, 0, fmt.Errorf("failed to read seed file %s: %w", path, err)
	}
	var data seedData
	if err := v.Unmarshal(&data); err != nil {
		return 0, 0, fmt.Errorf("failed to decode seed file: %w", err)
	}

	for i, u := range data.Users {
		if u.ID == "" || u.Name == "" {
			return 0, 0, fmt.Errorf("user %d: id and name are required", i)
		}
	}
	for i, s := range data.Songs {
		if s.ID == "" || s.Title == "" {
			return 0, 0, fmt.Errorf("song %d: id and title are required", i)
		}
		if s.Length < 0 {
			return 0, 0, fmt.Errorf("song %s: length can not be negative", s.ID)
		}
	}

	for _, u := range data.Users {
		acct := types.Account{ID: u.ID, Name: u.Name, Email: u.Email, ProfileImage: u.ProfileImage}
		if err := store.UpsertAccount(ctx, acct, u.Token); err != nil {
			return 0, 0, fmt.Errorf("seed user %s: %w", u.ID, err)
		}
	}
	for _, s := range data.Songs {
		t := types.Track{ID: s.ID, Title: s.Title, Artist: s.Artist, Length: s.Length, URL: s.URL, Cover: s.Cover}
		if err := store.UpsertTrack(ctx, t); err != nil {
			return len(data.Users), 0, fmt.Errorf("seed song %s: %w", s.ID, err)
		}
	}
	return len(data.Users), len(data.Songs), nil
}
