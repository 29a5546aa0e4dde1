package supabase

import (
	"fmt"

	"github.com/supabase-community/supabase-go"

	"foodglow-backend/internal/config"
)

type Client struct {
	Supabase *supabase.Client
	Config   *config.Config
}

func NewClient(cfg *config.Config) (*Client, error) {
	client, err := supabase.NewClient(cfg.SupabaseURL, cfg.SupabasePublishableKey, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create supabase client: %w", err)
	}

	return &Client{
		Supabase: client,
		Config:   cfg,
	}, nil
}

// JobLog returns the audit log writer for the configured jobs table.
func (c *Client) JobLog() *JobLog {
	return NewJobLog(c.Supabase, c.Config.SupabaseJobsTable)
}
