package crawlers

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/RecoveryAshes/NewsHarvest/internal/models"
)

// 默认选择器,对应新闻列表页的标记结构
const (
	DefaultArticleSelector     = "article[data-test='article-item']"
	DefaultLinkSelector        = "a[href]"
	DefaultDescriptionSelector = "p[data-test='article-description']"
	DefaultTimeSelector        = "time[data-test='article-publish-date']"
)

// ExtractConfig 提取规则
type ExtractConfig struct {
	ArticleSelector     string `mapstructure:"article_selector" yaml:"article_selector"`
	LinkSelector        string `mapstructure:"link_selector" yaml:"link_selector"`
	DescriptionSelector string `mapstructure:"description_selector" yaml:"description_selector"`
	TimeSelector        string `mapstructure:"time_selector" yaml:"time_selector"`
	LinkBase            string `mapstructure:"link_base" yaml:"link_base"` // 相对链接的基准地址
}

// DefaultExtractConfig 默认提取规则
func DefaultExtractConfig() ExtractConfig {
	return ExtractConfig{
		ArticleSelector:     DefaultArticleSelector,
		LinkSelector:        DefaultLinkSelector,
		DescriptionSelector: DefaultDescriptionSelector,
		TimeSelector:        DefaultTimeSelector,
	}
}

// ArticleExtractor 从页面HTML中提取文章记录
type ArticleExtractor interface {
	Extract(markup string, page int) ([]models.ArticleRecord, error)
}

// SelectorExtractor 基于CSS选择器的提取器
type SelectorExtractor struct {
	config ExtractConfig
	base   *url.URL
}

// NewSelectorExtractor 创建提取器,LinkBase无效时返回错误
func NewSelectorExtractor(config ExtractConfig) (*SelectorExtractor, error) {
	def := DefaultExtractConfig()
	if config.ArticleSelector == "" {
		config.ArticleSelector = def.ArticleSelector
	}
	if config.LinkSelector == "" {
		config.LinkSelector = def.LinkSelector
	}
	if config.DescriptionSelector == "" {
		config.DescriptionSelector = def.DescriptionSelector
	}
	if config.TimeSelector == "" {
		config.TimeSelector = def.TimeSelector
	}

	e := &SelectorExtractor{config: config}
	if config.LinkBase != "" {
		base, err := url.Parse(config.LinkBase)
		if err != nil || base.Scheme == "" || base.Host == "" {
			return nil, fmt.Errorf("无效的链接基准地址: %s", config.LinkBase)
		}
		e.base = base
	}
	return e, nil
}

// Extract 按文档顺序提取,零结果不是错误
func (e *SelectorExtractor) Extract(markup string, page int) ([]models.ArticleRecord, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(markup))
	if err != nil {
		return nil, fmt.Errorf("解析HTML失败: %w", err)
	}

	var records []models.ArticleRecord
	doc.Find(e.config.ArticleSelector).Each(func(_ int, article *goquery.Selection) {
		rec := models.ArticleRecord{Page: page}

		if a := article.Find(e.config.LinkSelector).First(); a.Length() > 0 {
			rec.Title = strings.TrimSpace(a.Text())
			if href, ok := a.Attr("href"); ok {
				rec.Link = e.resolve(strings.TrimSpace(href))
			}
		}

		if desc := article.Find(e.config.DescriptionSelector).First(); desc.Length() > 0 {
			rec.Description = strings.TrimSpace(desc.Text())
		}

		if t := article.Find(e.config.TimeSelector).First(); t.Length() > 0 {
			if dt, ok := t.Attr("datetime"); ok {
				rec.PublishedAt = strings.TrimSpace(dt)
			}
		}

		records = append(records, rec)
	})

	return records, nil
}

// resolve 相对链接按基准地址补全,已是http(s)的保持不变
func (e *SelectorExtractor) resolve(href string) string {
	if href == "" || strings.HasPrefix(href, "http://") || strings.HasPrefix(href, "https://") {
		return href
	}
	if e.base == nil {
		return href
	}
	ref, err := url.Parse(href)
	if err != nil {
		return href
	}
	return e.base.ResolveReference(ref).String()
}
