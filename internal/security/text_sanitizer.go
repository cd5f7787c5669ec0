// Package security はアプリケーションのセキュリティ機能を提供する。
//
// TextSanitizer はユーザー入力やプロバイダーから取得した抜粋をプレーンテキストに正規化し、
// APIレスポンスやAIプロンプトにマークアップが混入しないようにする。
// bluemondayのStrictPolicyで全タグを除去した上でHTMLエンティティを復元する。
package security

import (
	"html"
	"strings"
	"unicode/utf8"

	"github.com/microcosm-cc/bluemonday"
)

// TextSanitizer はテキストのサニタイズ機能のインターフェースを定義する。
type TextSanitizer interface {
	// Sanitize は全てのHTMLタグを除去し、エンティティを復元したプレーンテキストを返す。
	// script/styleの中身は出力に含まれない。改行は保持し、行内の連続する空白は1つにまとめる。
	// 連続する空行は1行にまとめ、先頭と末尾の空行は除去する。
	Sanitize(raw string) string
	// SanitizeLine はSanitizeと同様だが、改行を含む全ての空白を1つの空白にまとめる。
	// タイトルや抜粋など1行で表示するフィールドに使う。
	SanitizeLine(raw string) string
}

// textSanitizer はTextSanitizerの実装。
// bluemondayのポリシーはスレッドセーフなので、1インスタンスを共有する。
type textSanitizer struct {
	policy *bluemonday.Policy
}

// NewTextSanitizer はTextSanitizerの新しいインスタンスを生成する。
func NewTextSanitizer() *textSanitizer {
	p := bluemonday.StrictPolicy()
	// <p>a</p><p>b</p> が "ab" に潰れないようにする
	p.AddSpaceWhenStrippingTag(true)

	return &textSanitizer{policy: p}
}

// Sanitize はプレーンテキストを返す。
func (s *textSanitizer) Sanitize(raw string) string {
	if raw == "" {
		return ""
	}
	text := s.plainText(raw)

	lines := strings.Split(text, "\n")
	out := make([]string, 0, len(lines))
	blank := false
	for _, line := range lines {
		line = strings.Join(strings.Fields(line), " ")
		if line == "" {
			blank = len(out) > 0
			continue
		}
		if blank {
			out = append(out, "")
			blank = false
		}
		out = append(out, line)
	}
	return strings.Join(out, "\n")
}

// SanitizeLine は1行のプレーンテキストを返す。
func (s *textSanitizer) SanitizeLine(raw string) string {
	if raw == "" {
		return ""
	}
	return strings.Join(strings.Fields(s.plainText(raw)), " ")
}

func (s *textSanitizer) plainText(raw string) string {
	raw = strings.ReplaceAll(raw, "\r\n", "\n")
	raw = strings.ReplaceAll(raw, "\r", "\n")
	return html.UnescapeString(s.policy.Sanitize(raw))
}

// Truncate はsを最大maxRunes文字に切り詰める。切り詰めた場合は末尾に"…"を付ける。
func Truncate(s string, maxRunes int) string {
	if maxRunes <= 0 || utf8.RuneCountInString(s) <= maxRunes {
		return s
	}
	runes := []rune(s)
	return strings.TrimSpace(string(runes[:maxRunes-1])) + "…"
}

// compile-time interface check
var _ TextSanitizer = (*textSanitizer)(nil)
