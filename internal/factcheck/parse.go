package factcheck

import (
	"regexp"
	"strings"
)

const (
	fallbackSummary    = "ファクトチェック結果の解析に失敗しました。以下が生のレスポンスです。"
	fallbackTopic      = "LLMレスポンス"
	fallbackClaim      = "解析不能なレスポンス"
	fallbackConclusion = "結果を正確に解析できませんでした。レスポンス全体を確認してください。"

	noSummary     = "概要なし"
	noConclusion  = "結論なし"
	noDetailTopic = "分析なし"
	noDetailText  = "詳細な分析は実施されませんでした。"
)

type section int

const (
	sectionNone section = iota
	sectionSummary
	sectionDetails
	sectionConclusion
)

var (
	// "## 1. 概要", "概要：...", "**2. 詳細分析**", "## **3. 結論**", "## 🏁 結論" and full-width variants.
	sectionHeading = regexp.MustCompile(`^(?:#{1,2}\s*)?[*_]*\s*(?:[1-3１-３][.．]\s*)?(?:[^\p{L}\p{N}\s#]+\s*)?(概要|詳細分析|結論)[*_]*(?:\s*[:：][*_]*\s*(.*)|\s*)$`)
	topicHeading   = regexp.MustCompile(`^(?:###\s*(.+)|[*_]*[0-9０-９]+[.．]\s*(.+))$`)
	topicNumber    = regexp.MustCompile(`^[0-9０-９]+[.．]\s*`)
	claimLine      = regexp.MustCompile(`>\s*([^\n]+)`)
	verdictLine    = regexp.MustCompile(`事実確認[^\n]*?[：:]\s*([^\n]*)`)
	correctLine    = regexp.MustCompile(`正しい情報[^\n]*?[：:]\s*([^\n]+)`)
	markdownLink   = regexp.MustCompile(`\[([^\]]+)\]\(([^)]+)\)`)
)

// Parse recovers an Analysis from the model's Markdown answer. It never
// fails: text without recognisable structure yields a single detail that
// carries the raw response.
func Parse(text string) Analysis {
	text = strings.ReplaceAll(text, "\r\n", "\n")

	var summary, details, conclusion []string
	current := sectionNone
	for _, line := range strings.Split(text, "\n") {
		if m := sectionHeading.FindStringSubmatch(strings.TrimSpace(line)); m != nil {
			current = sectionOf(m[1])
			line = m[2]
			if strings.TrimSpace(line) == "" {
				continue
			}
		}
		switch current {
		case sectionSummary:
			summary = append(summary, line)
		case sectionDetails:
			details = append(details, line)
		case sectionConclusion:
			conclusion = append(conclusion, line)
		}
	}

	a := Analysis{
		Summary:    strings.TrimSpace(strings.Join(summary, "\n")),
		Details:    parseDetails(details),
		Conclusion: strings.TrimSpace(strings.Join(conclusion, "\n")),
	}

	if a.Summary == "" && len(a.Details) == 0 && a.Conclusion == "" {
		return Analysis{
			Summary: fallbackSummary,
			Details: []Detail{{
				Topic:      fallbackTopic,
				Claim:      fallbackClaim,
				IsFactual:  false,
				Correction: text,
			}},
			Conclusion: fallbackConclusion,
		}
	}
	if a.Summary == "" {
		a.Summary = noSummary
	}
	if a.Conclusion == "" {
		a.Conclusion = noConclusion
	}
	if len(a.Details) == 0 {
		a.Details = []Detail{{Topic: noDetailTopic, IsFactual: true, Correction: noDetailText}}
	}
	return a
}

func sectionOf(keyword string) section {
	switch keyword {
	case "概要":
		return sectionSummary
	case "詳細分析":
		return sectionDetails
	case "結論":
		return sectionConclusion
	}
	return sectionNone
}

// parseDetails splits the details section on sub-headings and reads each
// block. Lines before the first sub-heading are ignored.
func parseDetails(lines []string) []Detail {
	var (
		out   []Detail
		topic string
		block []string
		open  bool
	)
	flush := func() {
		if open {
			out = append(out, parseDetail(topic, block))
		}
	}
	for _, line := range lines {
		if m := topicHeading.FindStringSubmatch(strings.TrimSpace(line)); m != nil {
			flush()
			topic = m[1]
			if topic == "" {
				topic = m[2]
			}
			topic = strings.Trim(strings.TrimSpace(topic), "*_ ")
			topic = strings.TrimSpace(topicNumber.ReplaceAllString(topic, ""))
			block = []string{line}
			open = true
			continue
		}
		if open {
			block = append(block, line)
		}
	}
	flush()
	return out
}

func parseDetail(topic string, lines []string) Detail {
	body := strings.Join(lines, "\n")
	d := Detail{
		Topic:     topic,
		IsFactual: !strings.Contains(body, "不正確") && !strings.Contains(body, "誤り"),
	}
	if m := claimLine.FindStringSubmatch(body); m != nil {
		d.Claim = strings.TrimSpace(m[1])
	}
	d.Correction = correction(lines)
	for _, m := range markdownLink.FindAllStringSubmatch(body, -1) {
		d.Sources = append(d.Sources, Source{Title: strings.TrimSpace(m[1]), URL: strings.TrimSpace(m[2])})
	}
	return d
}

// correction reads the explanation that follows the verdict sentence, e.g.
// "事実確認: 不正確です。正しくは…". When the verdict line carries nothing
// after the verdict, the next plain line is used.
func correction(lines []string) string {
	for i, line := range lines {
		m := verdictLine.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		rest := m[1]
		if idx := strings.Index(rest, "。"); idx >= 0 {
			if c := strings.TrimSpace(rest[idx+len("。"):]); c != "" {
				return c
			}
		}
		for _, next := range lines[i+1:] {
			next = strings.TrimSpace(next)
			if next == "" || strings.HasPrefix(next, ">") || markdownLink.MatchString(next) || strings.Contains(next, "参考") {
				continue
			}
			if cm := correctLine.FindStringSubmatch(next); cm != nil {
				return strings.TrimSpace(cm[1])
			}
			return next
		}
		return ""
	}
	for _, line := range lines {
		if cm := correctLine.FindStringSubmatch(line); cm != nil {
			return strings.TrimSpace(cm[1])
		}
	}
	return ""
}
