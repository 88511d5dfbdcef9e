package entity

import (
	"strings"
	"unicode/utf8"

	"MemoLink/pkg/xerr"
)

const (
	MaxContentChars = 10000
	MaxTitleChars   = 200
	MaxTags         = 10
	MaxTagChars     = 50
)

// ValidateContent 内容必填且长度受限
func ValidateContent(content string) error {
	if strings.TrimSpace(content) == "" {
		return xerr.Wrapf(xerr.ErrInvalidInput, "content is required")
	}
	if n := utf8.RuneCountInString(content); n > MaxContentChars {
		return xerr.Wrapf(xerr.ErrInvalidInput, "content too long: %d > %d", n, MaxContentChars)
	}
	return nil
}

func ValidateTitle(title string) error {
	if n := utf8.RuneCountInString(title); n > MaxTitleChars {
		return xerr.Wrapf(xerr.ErrInvalidInput, "title too long: %d > %d", n, MaxTitleChars)
	}
	return nil
}

// NormalizeTags 去空白、转小写、去重，保持首次出现的顺序；逗号是向量元数据里的分隔符，不允许出现在标签中
func NormalizeTags(tags []string) ([]string, error) {
	out := make([]string, 0, len(tags))
	seen := make(map[string]struct{}, len(tags))
	for _, t := range tags {
		t = strings.ToLower(strings.TrimSpace(t))
		if t == "" {
			continue
		}
		if _, ok := seen[t]; ok {
			continue
		}
		if strings.Contains(t, ",") {
			return nil, xerr.Wrapf(xerr.ErrInvalidInput, "tag %q must not contain ','", t)
		}
		if n := utf8.RuneCountInString(t); n > MaxTagChars {
			return nil, xerr.Wrapf(xerr.ErrInvalidInput, "tag %q too long: %d > %d", t, n, MaxTagChars)
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	if len(out) > MaxTags {
		return nil, xerr.Wrapf(xerr.ErrInvalidInput, "too many tags: %d > %d", len(out), MaxTags)
	}
	return out, nil
}
