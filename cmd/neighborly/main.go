package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/MarcoPoloResearchLab/neighborly/backend/internal/changefeed"
	"github.com/MarcoPoloResearchLab/neighborly/backend/internal/client"
	"github.com/MarcoPoloResearchLab/neighborly/backend/internal/config"
	"github.com/MarcoPoloResearchLab/neighborly/backend/internal/feed"
	"github.com/MarcoPoloResearchLab/neighborly/backend/internal/identity"
	"github.com/MarcoPoloResearchLab/neighborly/backend/internal/logging"
	"github.com/MarcoPoloResearchLab/neighborly/backend/internal/posts"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

const appName = "neighborly"

var (
	cfgFile string
)

// session holds what every command needs once configuration is loaded.
type session struct {
	board    *client.Client
	storage  identity.Storage
	identity *identity.Provider
	pageSize int
	logger   *zap.Logger
}

func main() {
	rootCmd := &cobra.Command{
		Use:           appName,
		Short:         "Post and reply on the neighborhood swap board",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig()
		},
	}
	setupFlags(rootCmd)
	rootCmd.AddCommand(whoamiCommand(), postCommand(), replyCommand(), feedCommand(), watchCommand())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, describeError(err))
		stop()
		os.Exit(1)
	}
}

func setupFlags(cmd *cobra.Command) {
	config.ApplyDefaults(viper.GetViper())
	defaults := config.NewViper()
	flags := cmd.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "Path to configuration file")
	flags.String("server", defaults.GetString("client.server_url"), "Board API base URL")
	flags.String("state", defaults.GetString("client.state_path"), "Path to the local state file (defaults to the user config dir)")
	flags.String("log-level", "warn", "Log level (debug, info, warn, error)")
	flags.Int("page-size", defaults.GetInt("feed.page_size"), "Posts per feed page")

	bindFlag(cmd, "client.server_url", "server")
	bindFlag(cmd, "client.state_path", "state")
	bindFlag(cmd, "log.level", "log-level")
	bindFlag(cmd, "feed.page_size", "page-size")
}

func bindFlag(cmd *cobra.Command, key, flag string) {
	if err := viper.BindPFlag(key, cmd.PersistentFlags().Lookup(flag)); err != nil {
		panic(err)
	}
}

func initConfig() error {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	}
	if err := viper.ReadInConfig(); err != nil {
		var configNotFound viper.ConfigFileNotFoundError
		if cfgFile != "" && errors.As(err, &configNotFound) {
			return err
		}
	}
	return nil
}

func newSession() (*session, error) {
	clientConfig, err := config.LoadClient(viper.GetViper())
	if err != nil {
		return nil, err
	}
	logger, err := logging.NewConsoleLogger(clientConfig.LogLevel)
	if err != nil {
		return nil, err
	}
	board, err := client.New(client.Config{BaseURL: clientConfig.ServerURL, Logger: logger})
	if err != nil {
		return nil, err
	}
	return &session{
		board:    board,
		storage:  openStorage(clientConfig.StatePath, logger),
		pageSize: clientConfig.PageSize,
		logger:   logger,
	}, nil
}

// openStorage returns the state file, or session-only memory when the file cannot be used.
func openStorage(path string, logger *zap.Logger) identity.Storage {
	if path == "" {
		defaultPath, err := identity.DefaultFilePath(appName)
		if err != nil {
			logger.Warn("local state unavailable, remembering this session only", zap.Error(err))
			return identity.NewMemoryStorage()
		}
		path = defaultPath
	}
	storage := identity.NewFileStorage(path)
	if _, err := storage.Load(identity.NeighborIDKey); err != nil {
		logger.Warn("local state unavailable, remembering this session only", zap.String("path", path), zap.Error(err))
		return identity.NewMemoryStorage()
	}
	return storage
}

func (s *session) neighborID() string {
	if s.identity == nil {
		s.identity = identity.NewProvider(identity.ProviderConfig{Storage: s.storage, Logger: s.logger})
	}
	return s.identity.GetOrCreateNeighborID()
}

func (s *session) profile(flags identity.Profile) identity.Profile {
	remembered, err := identity.LoadProfile(s.storage)
	if err != nil {
		s.logger.Warn("remembered profile unavailable", zap.Error(err))
	}
	return flags.Merge(remembered)
}

func (s *session) remember(profile identity.Profile) {
	if err := identity.SaveProfile(s.storage, profile); err != nil {
		s.logger.Warn("could not remember profile", zap.Error(err))
	}
}

func whoamiCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Print this device's neighbor id and remembered profile",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			current, err := newSession()
			if err != nil {
				return err
			}
			profile := current.profile(identity.Profile{})
			neighborID := current.neighborID()
			if neighborID == "" {
				neighborID = "(session only)"
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "neighbor id:  %s\n", neighborID)
			fmt.Fprintf(out, "nickname:     %s\n", valueOrDash(profile.Nickname))
			fmt.Fprintf(out, "neighborhood: %s\n", valueOrDash(profile.Neighborhood))
			return nil
		},
	}
}

func postCommand() *cobra.Command {
	var input identity.Profile
	var offer, need string
	cmd := &cobra.Command{
		Use:   "post",
		Short: "Offer a skill in exchange for something you need",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			current, err := newSession()
			if err != nil {
				return err
			}
			profile := current.profile(input)
			result, err := current.board.Submit(cmd.Context(), posts.Submission{
				NeighborID:   current.neighborID(),
				Nickname:     profile.Nickname,
				Neighborhood: profile.Neighborhood,
				Offer:        offer,
				Need:         need,
			})
			if err != nil {
				return err
			}
			current.remember(profile)
			fmt.Fprintf(cmd.OutOrStdout(), "posted %s\n", result.Post.ID)
			return nil
		},
	}
	addProfileFlags(cmd, &input)
	cmd.Flags().StringVar(&offer, "offer", "", fmt.Sprintf("What you can offer (up to %d characters)", posts.MaxSwapTextLength))
	cmd.Flags().StringVar(&need, "need", "", fmt.Sprintf("What you need (up to %d characters)", posts.MaxSwapTextLength))
	return cmd
}

func replyCommand() *cobra.Command {
	var input identity.Profile
	var content string
	cmd := &cobra.Command{
		Use:   "reply POST_ID",
		Short: "Reply to a post; without --content a suggested message is sent",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			current, err := newSession()
			if err != nil {
				return err
			}
			postID := args[0]
			if content == "" {
				suggestion, err := suggestReply(cmd.Context(), current, postID)
				if err != nil {
					return err
				}
				content = suggestion
			}
			profile := current.profile(input)
			result, err := current.board.Submit(cmd.Context(), posts.Submission{
				PostID:       postID,
				NeighborID:   current.neighborID(),
				Nickname:     profile.Nickname,
				Neighborhood: profile.Neighborhood,
				Content:      content,
			})
			if err != nil {
				return err
			}
			current.remember(profile)
			fmt.Fprintf(cmd.OutOrStdout(), "replied %s to %s\n", result.Reply.ID, result.Reply.PostID)
			return nil
		},
	}
	addProfileFlags(cmd, &input)
	cmd.Flags().StringVar(&content, "content", "", "Reply message")
	return cmd
}

// suggestReply finds the post on the largest page the server allows and drafts a reply to it.
func suggestReply(ctx context.Context, current *session, postID string) (string, error) {
	loaded, err := current.board.LoadFeed(ctx, feed.DefaultMaxPageSize)
	if err != nil {
		return "", err
	}
	for _, entry := range loaded.Posts {
		if entry.ID == postID {
			return posts.SuggestReply(entry.Post), nil
		}
	}
	return "", fmt.Errorf("post %s is not on the board; pass --content to reply anyway", postID)
}

func feedCommand() *cobra.Command {
	var criteria feed.Criteria
	var filterType string
	var limit int
	cmd := &cobra.Command{
		Use:   "feed",
		Short: "Show the newest posts with their replies",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			parsedType, err := feed.ParseFilterType(filterType)
			if err != nil {
				return err
			}
			criteria.Type = parsedType
			current, err := newSession()
			if err != nil {
				return err
			}
			if limit <= 0 {
				limit = current.pageSize
			}
			loaded, err := current.board.LoadFeed(cmd.Context(), limit)
			if err != nil {
				return err
			}
			renderFeed(cmd.OutOrStdout(), loaded.Filter(criteria))
			return nil
		},
	}
	addCriteriaFlags(cmd, &criteria, &filterType)
	cmd.Flags().IntVar(&limit, "limit", 0, "Number of newest posts to load")
	return cmd
}

func watchCommand() *cobra.Command {
	var criteria feed.Criteria
	var filterType string
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Keep the feed on screen and redraw it whenever the board changes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			parsedType, err := feed.ParseFilterType(filterType)
			if err != nil {
				return err
			}
			criteria.Type = parsedType
			current, err := newSession()
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			events, err := current.board.Subscribe(ctx)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			reconciler := feed.NewReconciler(feed.ReconcilerConfig{
				Loader:   current.board,
				PageSize: current.pageSize,
				Logger:   current.logger,
				OnUpdate: func(loaded feed.Feed) {
					fmt.Fprint(out, clearScreen)
					renderFeed(out, loaded.Filter(criteria))
				},
			})
			reconciler.Notify()
			triggers := changefeed.Triggers(ctx, events)
			reconciler.Run(ctx, triggers)
			return nil
		},
	}
	addCriteriaFlags(cmd, &criteria, &filterType)
	return cmd
}

func addProfileFlags(cmd *cobra.Command, profile *identity.Profile) {
	cmd.Flags().StringVar(&profile.Nickname, "nickname", "", "Your nickname (remembered after a successful submission)")
	cmd.Flags().StringVar(&profile.Neighborhood, "neighborhood", "", "Your neighborhood (remembered after a successful submission)")
}

func addCriteriaFlags(cmd *cobra.Command, criteria *feed.Criteria, filterType *string) {
	cmd.Flags().StringVarP(&criteria.SearchText, "search", "q", "", "Case-insensitive text to find in offers, needs, or nicknames")
	cmd.Flags().StringVar(&criteria.Neighborhood, "neighborhood", "", "Only posts from this neighborhood")
	cmd.Flags().StringVar(filterType, "type", string(feed.FilterAll), "all, offer, or need")
}

func describeError(err error) string {
	switch {
	case errors.Is(err, posts.ErrValidation):
		var apiErr *client.APIError
		if errors.As(err, &apiErr) {
			return "invalid submission: " + apiErr.Message
		}
		return err.Error()
	case errors.Is(err, posts.ErrNotFound):
		return "post not found"
	case errors.Is(err, posts.ErrStore):
		return "the board could not save or load right now; try again"
	default:
		return err.Error()
	}
}
