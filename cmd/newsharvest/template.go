package main

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"github.com/RecoveryAshes/NewsHarvest/internal/core"
	"gopkg.in/yaml.v3"
)

const templateHeader = `NewsHarvest 配置文件
优先级: 默认值 < 配置文件 < 环境变量(NEWSHARVEST_前缀) < 命令行参数
时长使用Go格式,例如 20s、1m30s`

var durationType = reflect.TypeOf(time.Duration(0))

// RenderConfigTemplate 将配置渲染为YAML,时长字段输出为可读字符串
func RenderConfigTemplate(config core.Config) ([]byte, error) {
	root, err := templateNode(reflect.ValueOf(config))
	if err != nil {
		return nil, err
	}
	root.HeadComment = templateHeader

	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(root); err != nil {
		return nil, fmt.Errorf("序列化配置模板失败: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// WriteConfigTemplate 写入配置模板,已存在时需要force
func WriteConfigTemplate(path string, force bool) error {
	if _, err := os.Stat(path); err == nil && !force {
		return fmt.Errorf("配置文件已存在: %s (使用 --force 覆盖)", path)
	}

	data, err := RenderConfigTemplate(core.DefaultConfig())
	if err != nil {
		return err
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("创建配置目录失败: %w", err)
		}
	}
	return os.WriteFile(path, data, 0644)
}

// templateNode 按字段声明顺序构建YAML节点
func templateNode(v reflect.Value) (*yaml.Node, error) {
	if v.Type() == durationType {
		return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: time.Duration(v.Int()).String()}, nil
	}

	if v.Kind() != reflect.Struct {
		node := &yaml.Node{}
		if err := node.Encode(v.Interface()); err != nil {
			return nil, err
		}
		return node, nil
	}

	node := &yaml.Node{Kind: yaml.MappingNode}
	if err := appendFields(node, v); err != nil {
		return nil, err
	}
	return node, nil
}

func appendFields(node *yaml.Node, v reflect.Value) error {
	t := v.Type()
	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		if !field.IsExported() {
			continue
		}
		name, opts, _ := strings.Cut(field.Tag.Get("yaml"), ",")
		if name == "-" {
			continue
		}
		if opts == "inline" {
			if err := appendFields(node, v.Field(i)); err != nil {
				return err
			}
			continue
		}
		if name == "" {
			name = strings.ToLower(field.Name)
		}

		value, err := templateNode(v.Field(i))
		if err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
		key := &yaml.Node{Kind: yaml.ScalarNode, Value: name}
		node.Content = append(node.Content, key, value)
	}
	return nil
}
