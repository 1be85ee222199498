package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/spf13/cobra"

	"github.com/json420/dmedia/core/common"
	"github.com/json420/dmedia/mediastore/config"
	"github.com/json420/dmedia/mediastore/transfer"
)

var (
	peerURL     string
	backendName string
)

// newRegistry wires up the transfer backends available to the CLI.
func newRegistry() *transfer.Registry {
	backend := transfer.NewHTTPBackend(nil, nil,
		config.Configuration.MaxLeafRetries, config.Configuration.RetryInterval)
	registry := transfer.NewRegistry()
	registry.Register("http", backend.Factory()) //nolint:errcheck
	return registry
}

// fetchMeta asks the peer for the file's metadata document.
func fetchMeta(ctx context.Context, url string) (transfer.MetaDoc, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return transfer.MetaDoc{}, err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return transfer.MetaDoc{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return transfer.MetaDoc{}, common.NewErrorfWithStatusCode(resp.StatusCode, "meta_error",
			"fetching %s: %s", url, strings.TrimSpace(string(body)))
	}
	var meta transfer.MetaDoc
	if err := json.NewDecoder(resp.Body).Decode(&meta); err != nil {
		return transfer.MetaDoc{}, err
	}
	return meta, nil
}

func objectURL(base, object string) string {
	return strings.TrimRight(base, "/") + "/" + object
}

var getCmd = &cobra.Command{
	Use:   "get <id[.ext]>...",
	Short: "Download files from a peer into the store",
	Long: `Fetches each file's metadata document from the peer, then downloads
the missing leaves over the range protocol. An interrupted download leaves
its partial temp file behind and resumes where it left off on the next run.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openStore()
		if err != nil {
			return err
		}
		backend, err := newRegistry().Get(backendName)
		if err != nil {
			return err
		}
		ctx := cmd.Context()

		for _, object := range args {
			url := objectURL(peerURL, object)
			meta, err := fetchMeta(ctx, url+"/meta")
			if err != nil {
				return err
			}
			ch, err := meta.ContentHash()
			if err != nil {
				return err
			}
			_, ext := splitObject(object)
			doc := &transfer.FileDoc{Hash: ch, Ext: ext, URL: url}
			if err := backend.Download(ctx, doc, store); err != nil {
				return err
			}
			fmt.Printf("%s  %d bytes\n", ch.ID, ch.FileSize)
		}
		return nil
	},
}

var pushCmd = &cobra.Command{
	Use:   "push <id[.ext]>...",
	Short: "Upload canonical files to a peer",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openStore()
		if err != nil {
			return err
		}
		backend, err := newRegistry().Get(backendName)
		if err != nil {
			return err
		}
		ctx := cmd.Context()

		for _, object := range args {
			id, ext := splitObject(object)
			ch, err := store.Verify(id, ext)
			if err != nil {
				return err
			}
			doc := &transfer.FileDoc{Hash: ch, Ext: ext, URL: objectURL(peerURL, object)}
			if err := backend.Upload(ctx, doc, store); err != nil {
				return err
			}
			fmt.Printf("%s  pushed\n", id)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(getCmd, pushCmd)
	for _, c := range []*cobra.Command{getCmd, pushCmd} {
		c.Flags().StringVar(&peerURL, "peer", "http://localhost:8070", "base URL of the peer")
		c.Flags().StringVar(&backendName, "backend", "http", "transfer backend")
	}
}
