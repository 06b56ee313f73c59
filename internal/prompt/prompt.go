// Package prompt renders the generation prompts. Each builder takes
// aggregated vault context and produces a single prompt string with labeled
// sections, so the model sees canon, active manuscript, and instructions in
// a fixed order.
package prompt

import (
	"fmt"
	"sort"
	"strings"
	"text/template"

	"github.com/inkwell-dev/inkwell/internal/vault"
)

const divider = "-------------------------------------------------------------"

var chapterTemplate = template.Must(template.New("chapter").Parse(`SYSTEM INSTRUCTION FOR AI:

You are working on a multi-book narrative. Interpret the following file contents as directed:

{{.Divider}}
BOOK 1 - CANON (RELATED PASSAGES, RETRIEVED)
{{.Divider}}
{{.RelatedPassages}}

Use these excerpts to maintain continuity, tone, and world consistency.
Do NOT contradict Book 1 canon.

{{.Divider}}
BOOK 2 - ACTIVE MANUSCRIPT (CONTINUE THIS)
{{.Divider}}
{{.PreviousBook}}

Continue this manuscript.

{{.Divider}}
STORY BIBLE + EXTRACTIONS - WORLD + RULESET
{{.Divider}}
{{.StoryBible}}
{{.Extractions}}

These define rules of the world, character arcs, faction details, timelines, technology, tone, themes, motifs, and relationship structure.
These override Book 2 in cases of conflict.

{{.Divider}}
SLIDING WINDOW - IMMEDIATE CONTEXT
{{.Divider}}
{{.SlidingWindow}}

Continue directly from this.

{{.Divider}}
AUTHOR INSTRUCTIONS
{{.Divider}}
{{.Instructions}}

Author provides summary of events to be written or directions (like a director) or both.

{{.Divider}}
TARGET WORD COUNT
{{.Divider}}
{{.WordCount}} words

{{.Divider}}
SUMMARY OF YOUR ROLE
{{.Divider}}
- Book 1 = immutable canon
- Book 2 = active writing
- Story Bible + Extractions = world + theme rules
- Sliding Window = direct lead-in
- Instructions = style constraints

Continue writing Book 2 using all provided context.
Maintain perfect continuity and match the author's voice.`))

var microEditTemplate = template.Must(template.New("microedit").Parse(`SYSTEM INSTRUCTION FOR AI:

You are a line editor working on a specific passage that needs refinement.

{{.Divider}}
SELECTED PASSAGE TO EDIT
{{.Divider}}
{{.SelectedText}}

This is the passage the author wants revised.

{{.Divider}}
AUTHOR GRIEVANCES + DIRECTIVES
{{.Divider}}
{{.DirectorNotes}}

The author's specific concerns, plot disagreements, style issues, or desired changes for this passage.

{{.Divider}}
IMMEDIATE CONTEXT - SLIDING WINDOW
{{.Divider}}
{{.SlidingWindow}}

This provides immediate narrative context around the selected passage.

{{.Divider}}
STORY BIBLE + EXTRACTIONS - CANON CONSTRAINTS
{{.Divider}}
{{.StoryBible}}
{{.Extractions}}

Maintain consistency with world rules, character arcs, and established canon.

{{.Divider}}
CHARACTER NOTES - VOICE + CONTINUITY
{{.Divider}}
{{.CharacterNotes}}

Use these to maintain character voice, relationships, and arc progression.

{{.Divider}}
RELATED PASSAGES - STYLE ECHOES
{{.Divider}}
{{.RelatedPassages}}

Similar passages for tone and style reference.

{{.Divider}}
YOUR TASK
{{.Divider}}
Generate a SINGLE refined alternative to the selected passage that:
1. Addresses all author grievances/directives
2. Maintains perfect continuity with surrounding context
3. Preserves character voice and established canon
4. Matches the author's writing style
5. Flows seamlessly when inserted into the manuscript

Output ONLY the revised passage, ready to be copy-pasted into the manuscript.`))

var extractionTemplate = template.Must(template.New("extraction").Parse(`SYSTEM INSTRUCTION FOR AI:

You are extracting character information from a narrative passage.

{{.Divider}}
PASSAGE TO ANALYZE
{{.Divider}}
{{.SelectedText}}

Extract character-relevant information from this passage.

{{.Divider}}
EXISTING CHARACTER NOTES (IF ANY)
{{.Divider}}
{{.CharacterNotes}}

Current state of character files. Update these with new information.

{{.Divider}}
STORY BIBLE - CONTEXT
{{.Divider}}
{{.StoryBible}}

Use for world context and relationship structures.

{{.Divider}}
EXTRACTION TASK
{{.Divider}}
Analyze the passage and extract:

1. **Character Identities**
   - Names mentioned
   - New aliases or titles
   - Role/function in scene

2. **Voice Evidence**
   - Syntax patterns
   - Speech cadence
   - Verbal tells or quirks
   - Dialogue style

3. **New Traits/Revelations**
   - Physical descriptions
   - Personality traits
   - Skills/abilities shown
   - Emotional states

4. **Relationship Dynamics**
   - Interactions with other characters
   - Relationship changes or revelations
   - Power dynamics shifts

5. **Arc Progression**
   - Character development shown
   - Motivations revealed or changed
   - Goals/conflicts introduced
   - Status changes

6. **Spoiler-Sensitive Information**
   - What must not be revealed yet
   - Foreshadowing present

Output in the following format for each character found:

## {CharacterName}

### {timestamp} - Update

**Voice Evidence:**
[quoted dialogue or narration with page/chapter reference]

**New Traits:**
- [trait]: [evidence]

**Relationships:**
- **{OtherCharacter}**: [relationship change/evidence]

**Arc Progression:**
[what changed in this passage]

**Spoiler Notes:**
[any sensitive information to track]

---

This will be appended to the character's note file with timestamp.`))

// DefaultWordCount is the chapter target when the request omits one.
const DefaultWordCount = 2000

type chapterData struct {
	Divider         string
	RelatedPassages string
	PreviousBook    string
	StoryBible      string
	Extractions     string
	SlidingWindow   string
	Instructions    string
	WordCount       int
}

type microEditData struct {
	Divider         string
	SelectedText    string
	DirectorNotes   string
	SlidingWindow   string
	StoryBible      string
	Extractions     string
	CharacterNotes  string
	RelatedPassages string
}

type extractionData struct {
	Divider        string
	SelectedText   string
	CharacterNotes string
	StoryBible     string
}

// BuildChapter renders the chapter continuation prompt.
func BuildChapter(ctx *vault.ChapterContext, instructions string, wordCount int) (string, error) {
	if wordCount <= 0 {
		wordCount = DefaultWordCount
	}
	return render(chapterTemplate, chapterData{
		Divider:         divider,
		RelatedPassages: ctx.RelatedPassages,
		PreviousBook:    ctx.PreviousBook,
		StoryBible:      ctx.StoryBible,
		Extractions:     ctx.Extractions,
		SlidingWindow:   ctx.SlidingWindow,
		Instructions:    instructions,
		WordCount:       wordCount,
	})
}

// BuildMicroEdit renders the line-edit prompt for a selected passage.
func BuildMicroEdit(selectedText, directorNotes string, ctx *vault.MicroEditContext) (string, error) {
	return render(microEditTemplate, microEditData{
		Divider:         divider,
		SelectedText:    selectedText,
		DirectorNotes:   directorNotes,
		SlidingWindow:   ctx.SlidingWindow,
		StoryBible:      ctx.StoryBible,
		Extractions:     ctx.Extractions,
		CharacterNotes:  ctx.CharacterNotes,
		RelatedPassages: ctx.RelatedPassages,
	})
}

// BuildCharacterExtraction renders the extraction prompt over a passage.
func BuildCharacterExtraction(selectedText string, characterNotes map[string]string, storyBible string) (string, error) {
	names := make([]string, 0, len(characterNotes))
	for name := range characterNotes {
		names = append(names, name)
	}
	sort.Strings(names)

	var formatted []string
	for _, name := range names {
		formatted = append(formatted, fmt.Sprintf("## %s\n%s", name, characterNotes[name]))
	}

	return render(extractionTemplate, extractionData{
		Divider:        divider,
		SelectedText:   selectedText,
		CharacterNotes: strings.Join(formatted, "\n\n"),
		StoryBible:     storyBible,
	})
}

func render(tmpl *template.Template, data any) (string, error) {
	var b strings.Builder
	if err := tmpl.Execute(&b, data); err != nil {
		return "", fmt.Errorf("prompt render failed: %w", err)
	}
	return b.String(), nil
}
