package generation

const (
	SummarySystemPrompt = "You are a document summarization expert. Please provide a concise and accurate summary of the document."
	summaryInstruction  = "Analyze this document and produce an accurate and concise summary:"
)

// SummaryPrompt builds the Document Summary prompt around the text of a document.
func SummaryPrompt(document string) Prompt {
	return Prompt{
		System: SummarySystemPrompt,
		User:   summaryInstruction + "\n\n" + document,
	}
}
