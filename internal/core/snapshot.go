package core

import (
	"bufio"
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/RecoveryAshes/NewsHarvest/internal/models"
)

// utf8BOM 快照文件头部的字节序标记,便于表格软件识别编码
var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// SnapshotWriter 快照写入
type SnapshotWriter interface {
	Write(records []models.ArticleRecord) error
}

// CSVSnapshot CSV快照文件,每次写入完整覆盖
type CSVSnapshot struct {
	path string
}

// NewCSVSnapshot 创建快照
func NewCSVSnapshot(path string) *CSVSnapshot {
	return &CSVSnapshot{path: path}
}

// Path 快照路径
func (s *CSVSnapshot) Path() string {
	return s.path
}

// Write 写入全部记录:先写同目录临时文件再重命名,中途失败不会留下半截文件
func (s *CSVSnapshot) Write(records []models.ArticleRecord) error {
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("创建快照目录失败: %w", err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("创建临时文件失败: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if err := encodeSnapshot(tmp, records); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("关闭临时文件失败: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		return fmt.Errorf("替换快照文件失败: %w", err)
	}
	return nil
}

func encodeSnapshot(w io.Writer, records []models.ArticleRecord) error {
	bw := bufio.NewWriter(w)
	if _, err := bw.Write(utf8BOM); err != nil {
		return err
	}

	cw := csv.NewWriter(bw)
	if err := cw.Write(models.SnapshotColumns); err != nil {
		return fmt.Errorf("写入表头失败: %w", err)
	}
	for _, r := range records {
		if err := cw.Write(r.Row()); err != nil {
			return fmt.Errorf("写入记录失败: %w", err)
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return fmt.Errorf("写入快照失败: %w", err)
	}
	return bw.Flush()
}

// Load 读取已有快照,文件不存在时返回空结果
// 按表头列名取值,缺失的列视为空值
func (s *CSVSnapshot) Load() ([]models.ArticleRecord, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("读取快照失败: %w", err)
	}
	data = bytes.TrimPrefix(data, utf8BOM)

	cr := csv.NewReader(bytes.NewReader(data))
	cr.FieldsPerRecord = -1

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("解析快照表头失败: %w", err)
	}

	index := make(map[string]int, len(header))
	for i, name := range header {
		index[strings.TrimSpace(strings.ToLower(name))] = i
	}

	var records []models.ArticleRecord
	for {
		row, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("解析快照失败: %w", err)
		}

		ordered := make([]string, len(models.SnapshotColumns))
		for i, col := range models.SnapshotColumns {
			if j, ok := index[col]; ok && j < len(row) {
				ordered[i] = row[j]
			}
		}
		records = append(records, models.ArticleFromRow(ordered))
	}
	return records, nil
}
