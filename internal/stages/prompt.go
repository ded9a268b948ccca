package stages

import (
	"fmt"
	"strings"

	"storyforge/internal/domain"
)

// ComposePrompt builds the full synthesis prompt for one page. It is pure:
// the composed prompt is persisted on the page row and must be
// reproducible from the manifest and plan alone.
func ComposePrompt(m *domain.Manifest, plan *StoryPlan, pageIdx int) string {
	var b strings.Builder

	fmt.Fprintf(&b, "Children's picture book illustration, %s style.\n", strings.Join(m.StyleTags, ", "))
	fmt.Fprintf(&b, "Character: %s, a %s. %s\n", m.Name, m.Species, m.PhysicalDesc)
	fmt.Fprintf(&b, "Always include: %s.\n", strings.Join(m.KeyFeatures, ", "))
	if len(m.Props) > 0 {
		fmt.Fprintf(&b, "Carrying: %s.\n", strings.Join(m.Props, ", "))
	}
	fmt.Fprintf(&b, "Scene: %s\n", plan.Scenes[pageIdx])
	fmt.Fprintf(&b, "Background: %s\n", plan.Contexts[pageIdx].Background)
	fmt.Fprintf(&b, "Mood: %s\n", plan.SharedContext)

	negative := append([]string{}, m.NegativeTags...)
	if n := strings.TrimSpace(plan.Contexts[pageIdx].Negative); n != "" {
		negative = append(negative, n)
	}
	if len(negative) > 0 {
		fmt.Fprintf(&b, "Must not include: %s.", strings.Join(negative, ", "))
	}

	return b.String()
}
