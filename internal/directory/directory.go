package directory

import (
	"archive/zip"
	"bytes"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"equity-bar-ingestor/internal/service"
)

// Instrument 描述一个可订阅的证券：行情源内部 token 和人类可读代码
type Instrument struct {
	FeedToken string // 行情源的数字 id（字符串形式）
	Symbol    string // 交易所代码，例如 "RELIANCE"
}

// Directory 维护行情源证券主文件的缓存映射，只保留现货（Series == "EQ"）。
// 主文件是一个每日更新的 zip，内含 CSV；磁盘缓存按 TTL 生效。
// 缓存和远端都不可用时，若内存里还有上一次的 universe 则继续用旧数据，
// 宁可陈旧也不硬失败。
type Directory struct {
	client *resty.Client
	cfg    *service.DirectoryConfig

	mu            sync.Mutex
	universe      []Instrument
	symbolByToken map[string]string
	loadedAt      time.Time
}

// New 创建证券目录
func New(cfg *service.DirectoryConfig) *Directory {
	return &Directory{
		client: resty.New().SetTimeout(60 * time.Second),
		cfg:    cfg,
	}
}

// Universe 返回当前会话要订阅的全量证券，按主文件出现顺序。
// 缓存未过期直接复用；过期或缺失时同步刷新。
func (d *Directory) Universe() ([]Instrument, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	ttl := time.Duration(d.cfg.CacheTTLHours) * time.Hour

	// 内存中的 universe 还在 TTL 内则直接用
	if len(d.universe) > 0 && time.Since(d.loadedAt) < ttl {
		return d.universe, nil
	}

	if instruments, err := d.loadFromCacheFile(ttl); err == nil {
		d.install(instruments)
		service.Logger.Info("Using cached master file",
			zap.String("path", d.cacheFilePath()),
			zap.Int("instruments", len(instruments)))
		return d.universe, nil
	}

	instruments, err := d.downloadAndParse()
	if err != nil {
		// 远端失败：有旧数据就降级继续用
		if len(d.universe) > 0 {
			service.Logger.Warn("Master file refresh failed, keeping stale universe",
				zap.Error(err), zap.Int("instruments", len(d.universe)))
			return d.universe, nil
		}
		return nil, fmt.Errorf("%w: %v", service.ErrDirectoryUnavailable, err)
	}

	d.install(instruments)
	service.Logger.Info("Downloaded new master file",
		zap.String("url", d.cfg.MasterURL),
		zap.Int("instruments", len(instruments)))
	return d.universe, nil
}

// SymbolFor 按行情源 token 查证券代码，订阅 universe 之外的返回 false
func (d *Directory) SymbolFor(feedToken string) (string, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	symbol, ok := d.symbolByToken[feedToken]
	return symbol, ok
}

func (d *Directory) install(instruments []Instrument) {
	d.universe = instruments
	d.symbolByToken = make(map[string]string, len(instruments))
	for _, inst := range instruments {
		d.symbolByToken[inst.FeedToken] = inst.Symbol
	}
	d.loadedAt = time.Now()
}

func (d *Directory) cacheFilePath() string {
	return filepath.Join(d.cfg.CacheDir, d.cfg.MasterFileName)
}

// loadFromCacheFile 按文件修改时间判断缓存是否还在 TTL 内
func (d *Directory) loadFromCacheFile(ttl time.Duration) ([]Instrument, error) {
	path := d.cacheFilePath()
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if time.Since(info.ModTime()) >= ttl {
		return nil, fmt.Errorf("cache file expired: %s", path)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return parseMaster(data)
}

// downloadAndParse 下载 zip 主文件，解出目标 CSV，写入缓存后解析
func (d *Directory) downloadAndParse() ([]Instrument, error) {
	resp, err := d.client.R().Get(d.cfg.MasterURL)
	if err != nil {
		return nil, fmt.Errorf("download master zip: %w", err)
	}
	if !resp.IsSuccess() {
		return nil, fmt.Errorf("download master zip: status %d", resp.StatusCode())
	}

	reader, err := zip.NewReader(bytes.NewReader(resp.Body()), int64(len(resp.Body())))
	if err != nil {
		return nil, fmt.Errorf("open master zip: %w", err)
	}

	var data []byte
	for _, f := range reader.File {
		if f.Name != d.cfg.MasterFileName {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return nil, fmt.Errorf("open %s in zip: %w", f.Name, err)
		}
		data, err = io.ReadAll(rc)
		rc.Close()
		if err != nil {
			return nil, fmt.Errorf("read %s in zip: %w", f.Name, err)
		}
		break
	}
	if data == nil {
		return nil, fmt.Errorf("%s not found in master zip", d.cfg.MasterFileName)
	}

	instruments, err := parseMaster(data)
	if err != nil {
		return nil, err
	}

	// 解析成功才落缓存，坏文件不覆盖旧缓存
	if err := os.MkdirAll(d.cfg.CacheDir, 0o755); err == nil {
		if err := os.WriteFile(d.cacheFilePath(), data, 0o644); err != nil {
			service.Logger.Warn("Failed to write master cache file", zap.Error(err))
		}
	}
	return instruments, nil
}

// parseMaster 解析主文件 CSV：去掉表头的引号和空白，
// 只保留 Series == "EQ" 且 Token 为合法数字的行
func parseMaster(data []byte) ([]Instrument, error) {
	r := csv.NewReader(bytes.NewReader(data))
	r.TrimLeadingSpace = true
	r.FieldsPerRecord = -1

	header, err := r.Read()
	if err != nil {
		return nil, fmt.Errorf("master file has no header: %w", err)
	}

	tokenIdx, seriesIdx, symbolIdx := -1, -1, -1
	for i, name := range header {
		switch cleanField(name) {
		case "Token":
			tokenIdx = i
		case "Series":
			seriesIdx = i
		case "ExchangeCode":
			symbolIdx = i
		case "ShortName":
			if symbolIdx < 0 {
				symbolIdx = i
			}
		}
	}
	if tokenIdx < 0 || seriesIdx < 0 || symbolIdx < 0 {
		return nil, fmt.Errorf("master file missing Token/Series/ExchangeCode columns: %v", header)
	}

	var instruments []Instrument
	for {
		record, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			// 个别坏行跳过，不整体失败
			continue
		}
		maxIdx := tokenIdx
		if seriesIdx > maxIdx {
			maxIdx = seriesIdx
		}
		if symbolIdx > maxIdx {
			maxIdx = symbolIdx
		}
		if len(record) <= maxIdx {
			continue
		}
		if cleanField(record[seriesIdx]) != "EQ" {
			continue
		}
		token := cleanField(record[tokenIdx])
		if _, err := strconv.Atoi(token); err != nil {
			continue
		}
		symbol := cleanField(record[symbolIdx])
		if symbol == "" {
			continue
		}
		instruments = append(instruments, Instrument{FeedToken: token, Symbol: symbol})
	}

	if len(instruments) == 0 {
		return nil, fmt.Errorf("master file contains no EQ instruments")
	}
	return instruments, nil
}

func cleanField(s string) string {
	return strings.TrimSpace(strings.Trim(strings.TrimSpace(s), `"`))
}
