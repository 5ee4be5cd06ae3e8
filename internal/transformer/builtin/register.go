package builtin

import "catalogflat/internal/transformer"

func init() {
	transformer.Register("upper", newUpper)
	transformer.Register("lower", newLower)
	transformer.Register("title", newTitle)
	transformer.Register("normalize", newNormalize)
	transformer.Register("strip_html", newStripHTML)
	transformer.Register("replace_map", newReplaceMap)
	transformer.Register("scale", newScale)
	transformer.Register("prefix", newPrefix)
	transformer.Register("suffix", newSuffix)
	transformer.Register("truncate", newTruncate)
	transformer.Register("hash", newHash)
}
