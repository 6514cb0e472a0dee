package main

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

var (
	serverURL string
	apiKey    string
	ownerID   int64
	follow    bool
)

func main() {
	root := &cobra.Command{
		Use:   "script-host-cli",
		Short: "CLI client for the script hosting service",
	}

	root.PersistentFlags().StringVar(&serverURL, "server", "http://localhost:8080", "Server URL")
	root.PersistentFlags().StringVar(&apiKey, "api-key", os.Getenv("SCRIPTHOST_API_KEY"), "API key")
	root.PersistentFlags().Int64Var(&ownerID, "owner", 0, "Owner id the operation applies to")

	runCmd := &cobra.Command{
		Use:   "run [filename]",
		Short: "Start a script from the owner's folder",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			return postJSON("/scripts/run", map[string]any{"owner_id": ownerID, "filename": args[0]})
		},
	}
	root.AddCommand(runCmd)

	stopCmd := &cobra.Command{
		Use:   "stop [filename]",
		Short: "Stop a running script",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			return postJSON("/scripts/stop", map[string]any{"owner_id": ownerID, "filename": args[0]})
		},
	}
	root.AddCommand(stopCmd)

	psCmd := &cobra.Command{
		Use:   "ps",
		Short: "List running scripts",
		RunE: func(_ *cobra.Command, _ []string) error {
			path := "/scripts"
			if ownerID > 0 {
				path = fmt.Sprintf("/scripts?owner_id=%d", ownerID)
			}
			return getJSON(path)
		},
	}
	root.AddCommand(psCmd)

	logsCmd := &cobra.Command{
		Use:   "logs [filename]",
		Short: "Print a script's run log",
		Args:  cobra.ExactArgs(1),
		RunE:  runLogs,
	}
	logsCmd.Flags().BoolVarP(&follow, "follow", "f", false, "Stream appended output until the script stops")
	root.AddCommand(logsCmd)

	sessionCmd := &cobra.Command{
		Use:   "session",
		Short: "Manage web-panel sessions",
	}
	var displayName string
	createCmd := &cobra.Command{
		Use:   "create",
		Short: "Create (or replace) the owner's session",
		RunE: func(_ *cobra.Command, _ []string) error {
			return postJSON("/sessions", map[string]any{"owner_id": ownerID, "display_name": displayName})
		},
	}
	createCmd.Flags().StringVar(&displayName, "name", "", "Display name used to derive the panel username")
	sessionCmd.AddCommand(createCmd)
	sessionCmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Show the owner's session status",
		RunE: func(_ *cobra.Command, _ []string) error {
			return getJSON(fmt.Sprintf("/sessions/%d", ownerID))
		},
	})
	sessionCmd.AddCommand(&cobra.Command{
		Use:   "extend",
		Short: "Push the owner's session expiry later",
		RunE: func(_ *cobra.Command, _ []string) error {
			return postJSON("/sessions/extend", map[string]any{"owner_id": ownerID})
		},
	})
	sessionCmd.AddCommand(&cobra.Command{
		Use:   "revoke",
		Short: "Terminate the owner's session",
		RunE: func(_ *cobra.Command, _ []string) error {
			return doJSON(http.MethodDelete, fmt.Sprintf("/sessions/%d", ownerID), nil)
		},
	})
	root.AddCommand(sessionCmd)

	uploadCmd := &cobra.Command{
		Use:   "upload [path]",
		Short: "Upload a file (zip archives are extracted) into the owner's folder",
		Args:  cobra.ExactArgs(1),
		RunE:  runUpload,
	}
	root.AddCommand(uploadCmd)

	shareCmd := &cobra.Command{
		Use:   "share [filename]",
		Short: "Issue an expiring download link",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			return postJSON("/share", map[string]any{"owner_id": ownerID, "filename": args[0]})
		},
	}
	root.AddCommand(shareCmd)

	root.AddCommand(&cobra.Command{
		Use:   "runs",
		Short: "List audited script runs",
		RunE: func(_ *cobra.Command, _ []string) error {
			path := "/runs"
			if ownerID > 0 {
				path = fmt.Sprintf("/runs?owner_id=%d", ownerID)
			}
			return getJSON(path)
		},
	})

	root.AddCommand(&cobra.Command{
		Use:   "health",
		Short: "Check server health",
		RunE: func(_ *cobra.Command, _ []string) error {
			return getJSON("/health")
		},
	})

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func newRequest(method, path string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequest(method, serverURL+path, body)
	if err != nil {
		return nil, err
	}
	if apiKey != "" {
		req.Header.Set("X-API-Key", apiKey)
	}
	return req, nil
}

func doJSON(method, path string, payload any) error {
	var body io.Reader
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		body = bytes.NewReader(b)
	}

	req, err := newRequest(method, path, body)
	if err != nil {
		return err
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	client := &http.Client{Timeout: 30 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	return printJSON(resp)
}

func postJSON(path string, payload any) error {
	return doJSON(http.MethodPost, path, payload)
}

func getJSON(path string) error {
	return doJSON(http.MethodGet, path, nil)
}

func printJSON(resp *http.Response) error {
	var result any
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	formatted, _ := json.MarshalIndent(result, "", "  ")
	fmt.Println(string(formatted))

	if resp.StatusCode >= 400 {
		os.Exit(1)
	}
	return nil
}

func runLogs(_ *cobra.Command, args []string) error {
	path := fmt.Sprintf("/scripts/%d/%s/log", ownerID, args[0])
	if follow {
		path += "?follow=1"
	}

	req, err := newRequest(http.MethodGet, path, nil)
	if err != nil {
		return err
	}

	// No client timeout: a followed log stays open until the script stops.
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return printJSON(resp)
	}

	if !follow {
		_, err := io.Copy(os.Stdout, resp.Body)
		return err
	}

	// Unwrap the SSE framing back to plain log lines.
	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if data, ok := strings.CutPrefix(line, "data: "); ok {
			fmt.Println(data)
		}
	}
	return scanner.Err()
}

func runUpload(_ *cobra.Command, args []string) error {
	f, err := os.Open(args[0])
	if err != nil {
		return fmt.Errorf("opening file: %w", err)
	}
	defer f.Close()

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", filepath.Base(args[0]))
	if err != nil {
		return err
	}
	if _, err := io.Copy(fw, f); err != nil {
		return err
	}
	if err := mw.Close(); err != nil {
		return err
	}

	req, err := newRequest(http.MethodPost, fmt.Sprintf("/files/%d", ownerID), &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	client := &http.Client{Timeout: 2 * time.Minute}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	return printJSON(resp)
}
