package crawlfile

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"TieredCrawler/internal/domain"
)

// ExportPath returns the tier-and-date partitioned location of a transfer file.
func ExportPath(dataDir string, tier domain.Tier, at time.Time) string {
	return filepath.Join(dataDir, "exports", string(tier), at.Format("2006-01-02"),
		fmt.Sprintf("views_%s_%s.json", tier, at.Format("20060102_150405")))
}

// ResultPath returns where the fetcher writes its output. An empty tier yields the
// legacy untagged name so callers that bypass tiering keep working.
func ResultPath(dataDir string, tier domain.Tier, at time.Time) string {
	name := "views_data.json"
	if tier != "" {
		name = fmt.Sprintf("views_data_%s.json", tier)
	}
	return filepath.Join(dataDir, "results", at.Format("2006-01-02"), at.Format("15"), name)
}

// WriteJSON encodes v into path atomically: the data goes to a temporary file in the
// same directory which is renamed over path only after a successful sync.
func WriteJSON(path string, v any) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create dir %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()

	enc := json.NewEncoder(tmp)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("encode %s: %w", path, err)
	}

	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("sync %s: %w", path, err)
	}

	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("close %s: %w", path, err)
	}

	if err := os.Rename(tmpName, path); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("rename %s: %w", path, err)
	}

	return nil
}

// ReadTransfer loads a transfer file. A bare JSON array of items is accepted too.
func ReadTransfer(path string) (TransferFile, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return TransferFile{}, fmt.Errorf("read transfer file: %w", err)
	}

	var file TransferFile
	if trimmed := bytes.TrimSpace(raw); len(trimmed) > 0 && trimmed[0] == '[' {
		if err := json.Unmarshal(raw, &file.Data); err != nil {
			return TransferFile{}, fmt.Errorf("parse transfer file %s: %w", path, err)
		}
		file.TotalCount = len(file.Data)
		return file, nil
	}

	if err := json.Unmarshal(raw, &file); err != nil {
		return TransferFile{}, fmt.Errorf("parse transfer file %s: %w", path, err)
	}
	return file, nil
}

// ReadResult loads a result file.
func ReadResult(path string) (ResultFile, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return ResultFile{}, fmt.Errorf("read result file: %w", err)
	}

	var file ResultFile
	if err := json.Unmarshal(raw, &file); err != nil {
		return ResultFile{}, fmt.Errorf("parse result file %s: %w", path, err)
	}
	if file.Tier != "" {
		tier, err := domain.ParseTier(string(file.Tier))
		if err != nil {
			return ResultFile{}, fmt.Errorf("result file %s: %w", path, err)
		}
		file.Tier = tier
	}
	return file, nil
}
