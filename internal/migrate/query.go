package migrate

import (
	"fmt"
	"strings"
)

// BuildQuery returns the WIQL selecting the target project's work items,
// most recently changed first. filter is an optional extra WIQL condition.
func BuildQuery(filter string) string {
	var b strings.Builder
	b.WriteString("SELECT [System.Id] FROM WorkItems WHERE [System.TeamProject] = @project")
	if f := strings.TrimSpace(filter); f != "" {
		f = strings.TrimPrefix(f, "AND ")
		fmt.Fprintf(&b, " AND (%s)", f)
	}
	b.WriteString(" ORDER BY [System.ChangedDate] desc")
	return b.String()
}
