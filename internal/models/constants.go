package models

const (
	// FallbackAnswer is returned without calling the chat model when no
	// retrieved chunk is relevant enough to ground an answer.
	FallbackAnswer   = "I cannot find that information in the provided documents."
	ContextSeparator = "\n---\n"
	ThinkTag         = `(?s)<think>.*?</think>`

	MinTopK = 1
	MaxTopK = 20

	// MaxChatAttempts bounds the calls made to the chat model per question.
	MaxChatAttempts = 2

	// MaxTableRows caps how many rows of a tabular source are ingested.
	MaxTableRows = 1000
)

// File types recognised by the ingestor.
const (
	FileTypePDF  = "pdf"
	FileTypeDOCX = "docx"
	FileTypeXLSX = "xlsx"
	FileTypeCSV  = "csv"
	FileTypeMD   = "md"
	FileTypeTXT  = "txt"
)

var (
	SupportedFileTypes = []string{FileTypePDF, FileTypeDOCX, FileTypeXLSX, FileTypeCSV, FileTypeMD, FileTypeTXT}

	SystemPrompt = `You are a helpful assistant that answers questions about the user's documents.
Answer using ONLY the information in the provided context. Do not use prior knowledge.
If the context does not contain the answer, say explicitly: "` + FallbackAnswer + `"
When you use a fact, mention the source file and page it came from.`

	QueryPromptTemplate = `<context>
%s
</context>
Question: %s
Answer:`
)

// IsTabular reports whether rows of the file type are ingested as units.
func IsTabular(fileType string) bool {
	return fileType == FileTypeCSV || fileType == FileTypeXLSX
}

// IsSupported reports whether the ingestor can handle the file type.
func IsSupported(fileType string) bool {
	for _, ft := range SupportedFileTypes {
		if ft == fileType {
			return true
		}
	}
	return false
}
