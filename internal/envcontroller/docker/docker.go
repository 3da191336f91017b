// Package docker wraps the container engine for image builds, registry
// pushes/pulls and subtask container runs.
package docker

import (
	"archive/tar"
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/registry"
	"github.com/docker/docker/client"

	"github.com/gridmesh/gridmesh/pkg/logging"
)

const (
	inputMount  = "/usr/src/app/input"
	outputMount = "/usr/src/app/output"
)

// Engine drives the local container engine
type Engine struct {
	cli          *client.Client
	logger       logging.Logger
	registryAuth string
}

// Config configures the engine connection
type Config struct {
	RegistryUser     string
	RegistryPassword string
	Logger           logging.Logger
}

// NewEngine connects to the local engine via the standard environment
// variables
func NewEngine(cfg Config) (*Engine, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("failed to connect to container engine: %w", err)
	}

	auth := ""
	if cfg.RegistryUser != "" {
		raw, err := json.Marshal(registry.AuthConfig{
			Username: cfg.RegistryUser,
			Password: cfg.RegistryPassword,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to encode registry auth: %w", err)
		}
		auth = base64.URLEncoding.EncodeToString(raw)
	}

	return &Engine{cli: cli, logger: cfg.Logger, registryAuth: auth}, nil
}

// Build builds contextDir into an image tagged tag and returns the engine
// image id
func (e *Engine) Build(ctx context.Context, contextDir, tag string) (string, error) {
	buildContext, err := tarDirectory(contextDir)
	if err != nil {
		return "", err
	}

	resp, err := e.cli.ImageBuild(ctx, buildContext, types.ImageBuildOptions{
		Tags:   []string{tag},
		Remove: true,
	})
	if err != nil {
		return "", fmt.Errorf("failed to build image %s: %w", tag, err)
	}
	defer resp.Body.Close()
	// The build only completes once the response stream is drained
	if err := drainEngineStream(resp.Body); err != nil {
		return "", fmt.Errorf("image build %s failed: %w", tag, err)
	}

	inspect, _, err := e.cli.ImageInspectWithRaw(ctx, tag)
	if err != nil {
		return "", fmt.Errorf("failed to inspect built image %s: %w", tag, err)
	}
	return inspect.ID, nil
}

// Push pushes tag to the registry
func (e *Engine) Push(ctx context.Context, tag string) error {
	out, err := e.cli.ImagePush(ctx, tag, image.PushOptions{RegistryAuth: e.registryAuth})
	if err != nil {
		return fmt.Errorf("failed to push image %s: %w", tag, err)
	}
	defer out.Close()
	if err := drainEngineStream(out); err != nil {
		return fmt.Errorf("image push %s failed: %w", tag, err)
	}
	return nil
}

// Pull pulls tag from the registry and returns the engine image id
func (e *Engine) Pull(ctx context.Context, tag string) (string, error) {
	out, err := e.cli.ImagePull(ctx, tag, image.PullOptions{RegistryAuth: e.registryAuth})
	if err != nil {
		return "", fmt.Errorf("failed to pull image %s: %w", tag, err)
	}
	defer out.Close()
	if err := drainEngineStream(out); err != nil {
		return "", fmt.Errorf("image pull %s failed: %w", tag, err)
	}

	inspect, _, err := e.cli.ImageInspectWithRaw(ctx, tag)
	if err != nil {
		return "", fmt.Errorf("failed to inspect pulled image %s: %w", tag, err)
	}
	return inspect.ID, nil
}

// Run starts a container from tag with the subtask input/output binds and
// blocks until it exits, returning the container id and exit code
func (e *Engine) Run(ctx context.Context, tag, inputDir, outputDir string) (string, int64, error) {
	created, err := e.cli.ContainerCreate(ctx,
		&container.Config{Image: tag},
		&container.HostConfig{
			Binds: []string{
				inputDir + ":" + inputMount + ":ro",
				outputDir + ":" + outputMount + ":rw",
			},
		},
		nil, nil, "")
	if err != nil {
		return "", 0, fmt.Errorf("failed to create container for %s: %w", tag, err)
	}

	if err := e.cli.ContainerStart(ctx, created.ID, container.StartOptions{}); err != nil {
		return created.ID, 0, fmt.Errorf("failed to start container %s: %w", created.ID, err)
	}

	waitCh, errCh := e.cli.ContainerWait(ctx, created.ID, container.WaitConditionNotRunning)
	select {
	case err := <-errCh:
		return created.ID, 0, fmt.Errorf("failed to wait for container %s: %w", created.ID, err)
	case status := <-waitCh:
		if status.Error != nil {
			return created.ID, status.StatusCode, fmt.Errorf("container %s failed: %s", created.ID, status.Error.Message)
		}
		return created.ID, status.StatusCode, nil
	case <-ctx.Done():
		return created.ID, 0, ctx.Err()
	}
}

// tarDirectory packs a build context directory into an in-memory tarball
func tarDirectory(root string) (io.Reader, error) {
	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)

	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		hdr, err := tar.FileInfoHeader(info, "")
		if err != nil {
			return err
		}
		hdr.Name = filepath.ToSlash(rel)
		if err := tw.WriteHeader(hdr); err != nil {
			return err
		}
		f, err := os.Open(path)
		if err != nil {
			return err
		}
		defer f.Close()
		_, err = io.Copy(tw, f)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to pack build context: %w", err)
	}
	if err := tw.Close(); err != nil {
		return nil, fmt.Errorf("failed to pack build context: %w", err)
	}
	return &buf, nil
}

// drainEngineStream consumes a JSON progress stream and surfaces any error
// record it carries
func drainEngineStream(r io.Reader) error {
	dec := json.NewDecoder(r)
	for {
		var msg struct {
			Error string `json:"error"`
		}
		if err := dec.Decode(&msg); err == io.EOF {
			return nil
		} else if err != nil {
			return err
		}
		if msg.Error != "" {
			return fmt.Errorf("%s", msg.Error)
		}
	}
}
