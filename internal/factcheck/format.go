package factcheck

import (
	"fmt"
	"strings"
	"time"
)

// jst is Japan Standard Time. Japan observes no daylight saving time, so a
// fixed zone avoids depending on the host's tz database.
var jst = time.FixedZone("JST", 9*60*60)

// Format renders a as the Markdown comment posted on the pull request.
func Format(a Analysis, now time.Time) string {
	t := now.In(jst)

	var b strings.Builder
	b.WriteString("# 🔍 ファクトチェック結果\n\n")
	fmt.Fprintf(&b, "**実施日時**: %d/%d/%d %d:%02d JST\n\n", t.Year(), int(t.Month()), t.Day(), t.Hour(), t.Minute())
	fmt.Fprintf(&b, "## 📋 概要\n\n%s\n\n", a.Summary)
	b.WriteString("## 📊 詳細分析\n\n")

	for i, d := range a.Details {
		fmt.Fprintf(&b, "### %d. %s\n\n", i+1, d.Topic)
		fmt.Fprintf(&b, "> %s\n\n", d.Claim)
		verdict := "**不正確** です"
		if d.IsFactual {
			verdict = "正確です"
		}
		fmt.Fprintf(&b, "**✓ 事実確認**: %s。%s\n\n", verdict, d.Correction)

		if len(d.Sources) > 0 {
			b.WriteString("**参考**:\n")
			for _, s := range d.Sources {
				fmt.Fprintf(&b, "- [%s](%s)\n", s.Title, s.URL)
			}
			b.WriteString("\n")
		}
	}

	fmt.Fprintf(&b, "## 🏁 結論\n\n%s\n", a.Conclusion)
	return b.String()
}
