package models

// SnapshotColumns 快照文件的列名,顺序固定
var SnapshotColumns = []string{"title", "link", "description", "published_at"}

// ArticleRecord 文章记录
// 源页面结构异常时字段可能为空,空值不视为错误
type ArticleRecord struct {
	Title       string `json:"title"`        // 标题
	Link        string `json:"link"`         // 绝对链接
	Description string `json:"description"`  // 摘要
	PublishedAt string `json:"published_at"` // 发布时间(原始文本)

	// Page 来源页码,从快照加载的记录为0(快照不保存页码)
	Page int `json:"page"`
}

// Row 按SnapshotColumns顺序返回字段
func (a ArticleRecord) Row() []string {
	return []string{a.Title, a.Link, a.Description, a.PublishedAt}
}

// ArticleFromRow 从快照行构造记录,缺失的列视为空值
func ArticleFromRow(row []string) ArticleRecord {
	get := func(i int) string {
		if i < len(row) {
			return row[i]
		}
		return ""
	}
	return ArticleRecord{
		Title:       get(0),
		Link:        get(1),
		Description: get(2),
		PublishedAt: get(3),
	}
}

// IsEmpty 所有字段都缺失
func (a ArticleRecord) IsEmpty() bool {
	return a.Title == "" && a.Link == "" && a.Description == "" && a.PublishedAt == ""
}
