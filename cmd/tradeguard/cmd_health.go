package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/spf13/cobra"
)

func healthCmd(ctx context.Context) *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "health",
		Short: "Query a running instance's data health",
		RunE: func(_ *cobra.Command, _ []string) error {
			body, err := fetch(ctx, addr+"/health")
			if err != nil {
				return err
			}
			fmt.Println(body)
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "http://127.0.0.1:8080", "status API base address")
	return cmd
}

func statusCmd(ctx context.Context) *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show guard state and rolling accuracy of a running instance",
		RunE: func(_ *cobra.Command, _ []string) error {
			for _, path := range []string{"/guard", "/accuracy"} {
				body, err := fetch(ctx, addr+path)
				if err != nil {
					return err
				}
				fmt.Printf("%s:\n%s\n", path, body)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "http://127.0.0.1:8080", "status API base address")
	return cmd
}

// fetch GETs a status endpoint and pretty-prints the JSON body.
func fetch(ctx context.Context, url string) (string, error) {
	reqCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, url, nil)
	if err != nil {
		return "", fmt.Errorf("failed to build request: %w", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("request failed (is tradeguard running?): %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("status %d: %s", resp.StatusCode, string(data))
	}

	var pretty map[string]interface{}
	if err := json.Unmarshal(data, &pretty); err != nil {
		return string(data), nil
	}
	out, err := json.MarshalIndent(pretty, "", "  ")
	if err != nil {
		return string(data), nil
	}
	return string(out), nil
}
