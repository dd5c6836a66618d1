package store

import (
	"encoding/json"
	"os"
	"path/filepath"
)

// assetsCacheFile is the marker file Open consults to skip re-validating
// the embedded migration set when nothing in assetsDir has changed since
// the last successful launch.
const assetsCacheFile = "assets_cache.json"

type assetsCache struct {
	SDKVersion string           `json:"sdk_version"`
	AssetsPath string           `json:"assets_path"`
	FileMtimes map[string]int64 `json:"file_mtimes"`
}

// checkAssetsCache reports whether assetsDir's file mtimes and sdkVersion
// match the cache recorded in dataDir, meaning migration bookkeeping can be
// skipped this launch.
func checkAssetsCache(dataDir, assetsDir, sdkVersion string) (bool, error) {
	if assetsDir == "" {
		return false, nil
	}
	raw, err := os.ReadFile(filepath.Join(dataDir, assetsCacheFile))
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	var cached assetsCache
	if err := json.Unmarshal(raw, &cached); err != nil {
		return false, nil // corrupt cache: treat as cold, not fatal
	}
	if cached.SDKVersion != sdkVersion || cached.AssetsPath != assetsDir {
		return false, nil
	}

	entries, err := os.ReadDir(assetsDir)
	if err != nil {
		return false, nil
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		info, err := e.Info()
		if err != nil {
			return false, nil
		}
		want, ok := cached.FileMtimes[e.Name()]
		if !ok || want != info.ModTime().Unix() {
			return false, nil
		}
	}
	return true, nil
}

// writeAssetsCache snapshots assetsDir's current file mtimes so the next
// Open can short-circuit via checkAssetsCache.
func writeAssetsCache(dataDir, assetsDir, sdkVersion string) error {
	if assetsDir == "" {
		return nil
	}
	entries, err := os.ReadDir(assetsDir)
	if err != nil {
		return err
	}
	mtimes := make(map[string]int64, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		mtimes[e.Name()] = info.ModTime().Unix()
	}

	cache := assetsCache{SDKVersion: sdkVersion, AssetsPath: assetsDir, FileMtimes: mtimes}
	raw, err := json.Marshal(cache)
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dataDir, assetsCacheFile), raw, 0o644)
}
