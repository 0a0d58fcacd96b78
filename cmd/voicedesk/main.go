package main

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/salogamer2002/voicedesk/config"
	"github.com/salogamer2002/voicedesk/internal/hub"
	"github.com/salogamer2002/voicedesk/internal/llm"
	"github.com/salogamer2002/voicedesk/internal/notion"
	"github.com/salogamer2002/voicedesk/internal/registry"
	"github.com/salogamer2002/voicedesk/internal/research"
	"github.com/salogamer2002/voicedesk/internal/search"
	"github.com/salogamer2002/voicedesk/internal/server"
	"github.com/salogamer2002/voicedesk/internal/telemetry"
)

func main() {
	root := &cobra.Command{Use: "voicedesk"}
	root.AddCommand(researchCMD(), notionCMD())
	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func researchCMD() *cobra.Command {
	var cfgPath string
	cmd := &cobra.Command{
		Use:   "research",
		Short: "Run the voice research service",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig(cfgPath)
			if err != nil {
				return err
			}
			if cfg.LLM.APIKey == "" {
				return fmt.Errorf("llm.api_key not configured (VOICEDESK_LLM_API_KEY)")
			}

			metrics := telemetry.New(prometheus.DefaultRegisterer)
			reg := registry.New(log.New(log.Writer(), "[REGISTRY] ", log.LstdFlags))
			h := hub.New(log.New(log.Writer(), "[HUB] ", log.LstdFlags), metrics.DroppedSubscribers.Inc)

			client, err := llm.NewFireworks(cfg.LLM, "")
			if err != nil {
				return err
			}
			provider := search.NewFromConfig(cfg.Search)
			if provider == nil {
				log.Printf("[RESEARCH] no serper api key configured, using mock search results")
			}

			pipeline := research.New(cfg, client, provider, h, reg, metrics,
				log.New(log.Writer(), "[RESEARCH] ", log.LstdFlags))
			srv := server.NewResearchServer(cfg, reg, h, pipeline,
				log.New(log.Writer(), "[HTTP] ", log.LstdFlags))

			log.Printf("[RESEARCH] listening on %s", cfg.Server.ResearchAddr)
			return srv.Start()
		},
	}
	cmd.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "config file (default is .)")
	return cmd
}

func notionCMD() *cobra.Command {
	var cfgPath string
	cmd := &cobra.Command{
		Use:   "notion",
		Short: "Run the Notion workspace assistant service",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig(cfgPath)
			if err != nil {
				return err
			}

			metrics := telemetry.New(prometheus.DefaultRegisterer)
			agent := notion.NewAgent(cfg.Notion.MaxIterations, metrics,
				log.New(log.Writer(), "[NOTION] ", log.LstdFlags))

			sessions := notion.SessionFactory(func(ctx context.Context, token string) (notion.Session, error) {
				return notion.NewStdioSession(ctx, cfg.Notion, token)
			})
			newLLM := func(apiKey string) (llm.Client, error) {
				return llm.NewFireworks(cfg.LLM, apiKey)
			}

			srv := server.NewNotionServer(cfg, agent, sessions, newLLM,
				log.New(log.Writer(), "[HTTP] ", log.LstdFlags))

			log.Printf("[NOTION] listening on %s", cfg.Server.NotionAddr)
			return srv.Start()
		},
	}
	cmd.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "config file (default is .)")
	return cmd
}
