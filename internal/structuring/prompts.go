package structuring

import (
	"fmt"
	"strings"
)

const questionsSystemPrompt = `You convert the extracted text of a mathematics examination question paper into JSON.

Return a single JSON object and nothing else:
{"questions": [{
  "questionNumber": "1",
  "fullText": "the complete question text including its stem",
  "marks": 5,
  "subparts": [{"label": "(a)", "text": "...", "marks": 2}],
  "hasImage": false,
  "imageDescription": null,
  "detectedTopicsHint": ["Algebra"]
}]}

Rules:
- questionNumber is a string exactly as printed, without a trailing full stop.
- List questions in the order they appear.
- marks is the printed total for the question, or null if none is printed.
- Subpart marks come from the bracketed mark allocation, or null.
- hasImage is true when the question refers to a diagram, graph, table or figure; describe it in imageDescription.
- detectedTopicsHint is optional and may be empty.
- Ignore cover pages, instructions, blank pages and copyright notices.`

const answersSystemPrompt = `You convert the extracted text of a mathematics examination marking scheme into JSON.

Return a single JSON object and nothing else:
{"answers": [{
  "questionNumber": "1",
  "subparts": [{"label": "(a)", "answerText": "x = 3", "marks": 2, "notes": ["M1 for correct method"]}]
}]}

Rules:
- questionNumber is a string matching the numbering of the question paper.
- Use one subpart per labelled part. A question without parts has a single subpart with an empty label.
- marks is the number of marks available for the part, as an integer.
- notes carries method marks, accuracy marks and examiner guidance, one entry per note.`

func userPrompt(kind string, meta PaperMetadata, text string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Paper: %s", meta.PaperCode)
	if meta.PaperNumber != "" {
		fmt.Fprintf(&b, " paper %s", meta.PaperNumber)
	}
	fmt.Fprintf(&b, ", %s %d, level %s.\n", meta.Session, meta.Year, meta.SubjectLevel)
	fmt.Fprintf(&b, "Structure the following %s text.\n\n", kind)
	b.WriteString("<document>\n")
	b.WriteString(text)
	b.WriteString("\n</document>")
	return b.String()
}
