// Package swarm wraps the BitTorrent client used to move datasets between
// nodes.
package swarm

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/anacrolix/torrent"
	"github.com/anacrolix/torrent/bencode"
	"github.com/anacrolix/torrent/metainfo"

	"github.com/gridmesh/gridmesh/pkg/logging"
)

const (
	pieceLength = 256 << 10
	// downloadPollInterval paces completion checks while leeching
	downloadPollInterval = 100 * time.Millisecond
)

// Swarm seeds published datasets and leeches remote ones. All dataset
// content lives under one data directory, one subdirectory per dataset uid.
type Swarm struct {
	client   *torrent.Client
	dataDir  string
	trackers []string
	logger   logging.Logger
}

// Config configures the BitTorrent client
type Config struct {
	// DataDir holds one subdirectory per dataset uid
	DataDir    string
	ListenPort int
	// Trackers are announced in every published torrent; peer discovery
	// falls back to DHT when empty
	Trackers []string
	Logger   logging.Logger
}

// NewSwarm starts the BitTorrent client
func NewSwarm(cfg Config) (*Swarm, error) {
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create data dir: %w", err)
	}

	clientCfg := torrent.NewDefaultClientConfig()
	clientCfg.DataDir = cfg.DataDir
	clientCfg.Seed = true
	if cfg.ListenPort != 0 {
		clientCfg.ListenPort = cfg.ListenPort
	}

	client, err := torrent.NewClient(clientCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to start torrent client: %w", err)
	}
	return &Swarm{client: client, dataDir: cfg.DataDir, trackers: cfg.Trackers, logger: cfg.Logger}, nil
}

// Close stops the client and drops all swarm memberships
func (s *Swarm) Close() {
	s.client.Close()
}

// Seed packs dataDir/<datasetUID> into a torrent, writes its metainfo to
// torrentFile, starts seeding and returns the magnet link
func (s *Swarm) Seed(ctx context.Context, datasetUID, torrentFile string) (string, error) {
	contentDir := filepath.Join(s.dataDir, datasetUID)

	info := metainfo.Info{PieceLength: pieceLength}
	if err := info.BuildFromFilePath(contentDir); err != nil {
		return "", fmt.Errorf("failed to build torrent info for dataset %s: %w", datasetUID, err)
	}

	var mi metainfo.MetaInfo
	var err error
	if mi.InfoBytes, err = bencode.Marshal(info); err != nil {
		return "", fmt.Errorf("failed to encode torrent info: %w", err)
	}
	for _, tracker := range s.trackers {
		mi.AnnounceList = append(mi.AnnounceList, []string{tracker})
	}

	if err := writeTorrentFile(&mi, torrentFile); err != nil {
		return "", err
	}

	tor, err := s.client.AddTorrent(&mi)
	if err != nil {
		return "", fmt.Errorf("failed to seed dataset %s: %w", datasetUID, err)
	}
	select {
	case <-tor.GotInfo():
	case <-ctx.Done():
		return "", ctx.Err()
	}

	magnet := metainfo.Magnet{
		InfoHash:    tor.InfoHash(),
		DisplayName: tor.Name(),
		Trackers:    s.trackers,
	}
	s.logger.WithFields(logging.Fields{
		"dataset_uid": datasetUID,
		"info_hash":   tor.InfoHash().HexString(),
	}).Info("Seeding dataset")
	return magnet.String(), nil
}

// Download joins the swarm behind magnetLink and blocks until the dataset is
// fully fetched or ctx expires. The content lands under the data dir using
// the torrent's own name, which is the publisher's dataset uid.
func (s *Swarm) Download(ctx context.Context, magnetLink string) error {
	tor, err := s.client.AddMagnet(magnetLink)
	if err != nil {
		return fmt.Errorf("failed to join swarm: %w", err)
	}

	select {
	case <-tor.GotInfo():
	case <-ctx.Done():
		return fmt.Errorf("no metadata received: %w", ctx.Err())
	}

	tor.DownloadAll()
	ticker := time.NewTicker(downloadPollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if tor.BytesCompleted() >= tor.Length() {
				s.logger.WithField("torrent", tor.Name()).Info("Dataset download complete")
				return nil
			}
		case <-ctx.Done():
			return fmt.Errorf("download incomplete: %w", ctx.Err())
		}
	}
}

func writeTorrentFile(mi *metainfo.MetaInfo, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create torrent dir: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create torrent file: %w", err)
	}
	defer f.Close()
	if err := mi.Write(f); err != nil {
		return fmt.Errorf("failed to write torrent file: %w", err)
	}
	return nil
}
