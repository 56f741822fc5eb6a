package gemini

import "google.golang.org/genai"

// promptData represents the data passed to the prompt templates
type promptData struct {
	Resume         string
	JobDescription string
}

// matchResponse is the JSON object the model returns in match mode.
type matchResponse struct {
	MatchScore            *int     `json:"matchScore"`
	WeakSkills            []string `json:"weakSkills"`
	SuggestedImprovements []string `json:"suggestedImprovements"`
	SuggestedCourses      []string `json:"suggestedCourses"`
	CoverLetter           string   `json:"coverLetter"`
}

// coverLetterResponse is the JSON object the model returns in cover letter mode.
type coverLetterResponse struct {
	CoverLetter string `json:"coverLetter"`
}

func stringArray() *genai.Schema {
	return &genai.Schema{Type: genai.TypeArray, Items: &genai.Schema{Type: genai.TypeString}}
}

// matchSchema mirrors matchResponse.
func matchSchema() *genai.Schema {
	return &genai.Schema{
		Type: genai.TypeObject,
		Properties: map[string]*genai.Schema{
			"matchScore":            {Type: genai.TypeInteger},
			"weakSkills":            stringArray(),
			"suggestedImprovements": stringArray(),
			"suggestedCourses":      stringArray(),
			"coverLetter":           {Type: genai.TypeString},
		},
		Required: []string{"matchScore", "weakSkills", "suggestedImprovements", "suggestedCourses"},
	}
}

// coverLetterSchema mirrors coverLetterResponse.
func coverLetterSchema() *genai.Schema {
	return &genai.Schema{
		Type:       genai.TypeObject,
		Properties: map[string]*genai.Schema{"coverLetter": {Type: genai.TypeString}},
		Required:   []string{"coverLetter"},
	}
}
