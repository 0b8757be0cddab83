package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
)

// WatchList is the set of ads and contracts reconciled in addition to what the marketplace lists.
type WatchList struct {
	Ads       []uint64 `json:"ads,omitempty"`
	Contracts []uint64 `json:"contracts,omitempty"`
}

// Add records id, returning false if already present.
func (w *WatchList) Add(kind string, id uint64) (bool, error) {
	list, err := w.list(kind)
	if err != nil {
		return false, err
	}
	if slices.Contains(*list, id) {
		return false, nil
	}
	*list = append(*list, id)
	slices.Sort(*list)
	return true, nil
}

// Remove drops id, returning false if it wasn't present.
func (w *WatchList) Remove(kind string, id uint64) (bool, error) {
	list, err := w.list(kind)
	if err != nil {
		return false, err
	}
	idx := slices.Index(*list, id)
	if idx == -1 {
		return false, nil
	}
	*list = slices.Delete(*list, idx, idx+1)
	return true, nil
}

func (w *WatchList) list(kind string) (*[]uint64, error) {
	switch kind {
	case "ad":
		return &w.Ads, nil
	case "contract":
		return &w.Contracts, nil
	}
	return nil, fmt.Errorf("unknown watch kind:%s, must be ad or contract", kind)
}

func ConfigFilename() (string, error) {
	cfgDir, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	cfgPath := filepath.Join(cfgDir, "igo", "watch.json")
	err = os.MkdirAll(filepath.Dir(cfgPath), 0775) // user+group RWX, others RX
	if err != nil {
		return "", fmt.Errorf("error making directory:%s, error:%w", cfgDir, err)
	}
	return cfgPath, nil
}

// LoadWatchList reads the saved watch list, returning an empty one if none was saved yet.
func LoadWatchList() (*WatchList, error) {
	cfgName, err := ConfigFilename()
	if err != nil {
		return nil, err
	}
	return loadWatchListFile(cfgName)
}

func SaveWatchList(watched *WatchList) error {
	cfgName, err := ConfigFilename()
	if err != nil {
		return err
	}
	return saveWatchListFile(cfgName, watched)
}

func loadWatchListFile(cfgName string) (*WatchList, error) {
	file, err := os.Open(cfgName)
	if errors.Is(err, fs.ErrNotExist) {
		return &WatchList{}, nil
	}
	if err != nil {
		return nil, err
	}
	defer file.Close()

	var watched WatchList
	if err := json.NewDecoder(file).Decode(&watched); err != nil {
		return nil, fmt.Errorf("error reading watch list %s: %w", cfgName, err)
	}
	return &watched, nil
}

// saveWatchListFile writes into a temp file first, replacing cfgName only if successfully written.
func saveWatchListFile(cfgName string, watched *WatchList) error {
	temp, err := os.CreateTemp(filepath.Dir(cfgName), filepath.Base(cfgName)+".*")
	if err != nil {
		return err
	}
	encoder := json.NewEncoder(temp)
	encoder.SetIndent("", "  ")
	err = encoder.Encode(watched)
	if err != nil {
		_ = temp.Close()
		_ = os.Remove(temp.Name())
		return fmt.Errorf("error saving watch list: %w", err)
	}

	err = temp.Close()
	if err != nil {
		return err
	}

	err = os.Rename(temp.Name(), cfgName)
	if err != nil {
		return err
	}
	slog.Info("watch list saved", "file", cfgName)
	return nil
}
