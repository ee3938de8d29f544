package provider

import "fmt"

// SystemPrompt frames every template generation
const SystemPrompt = "You are a professional project management expert specializing in creating PMI 2025-compliant templates. Generate high-quality, professional, and unbiased content."

// BuildPrompt renders the user prompt for a template. description must
// already be sanitized.
func BuildPrompt(templateType, industry, description string) string {
	return fmt.Sprintf(`Generate a professional %[1]s for a %[2]s project.

Project Description: %[3]s

Requirements:
- Follow PMI 2025 standards
- Use professional language
- Include all standard sections for a %[1]s
- Be specific and actionable
- Maintain inclusive and unbiased language

Generate a comprehensive %[1]s that meets these requirements.`, templateType, industry, description)
}
