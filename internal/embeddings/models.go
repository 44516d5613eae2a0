package embeddings

const fastEmbedProviderName = "fastembed"

// knownModelDimensions maps supported model names to embedding dimensions.
var knownModelDimensions = map[string]int{
	"BAAI/bge-small-en-v1.5":                 384,
	"BAAI/bge-small-en":                      384,
	"BAAI/bge-base-en-v1.5":                  768,
	"BAAI/bge-base-en":                       768,
	"BAAI/bge-small-zh-v1.5":                 512,
	"sentence-transformers/all-MiniLM-L6-v2": 384,
	"fast-bge-small-en-v1.5":                 384,
	"fast-bge-small-en":                      384,
	"fast-bge-base-en-v1.5":                  768,
	"fast-bge-base-en":                       768,
	"fast-bge-small-zh-v1.5":                 512,
	"fast-all-MiniLM-L6-v2":                  384,
}

// fastEmbedModelDimension returns dimensions for known models.
func fastEmbedModelDimension(model string) (int, bool) {
	dim, ok := knownModelDimensions[model]
	return dim, ok
}
