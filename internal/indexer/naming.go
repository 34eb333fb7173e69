package indexer

import (
	"fmt"
	"regexp"

	"github.com/forensics/semsearch/internal/errs"
	"github.com/forensics/semsearch/internal/vstore"
)

// collectionNamePattern is the allowed shape for collection names.
var collectionNamePattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)

// CollectionName builds a collection name from a kind prefix and a
// caller-supplied batch tag as "<kind_prefix>_<batch_tag>"; an empty tag
// yields the bare prefix.
func CollectionName(kind vstore.Kind, batchTag string) (string, error) {
	name := string(kind)
	if batchTag != "" {
		name = fmt.Sprintf("%s_%s", kind, batchTag)
	}
	if !collectionNamePattern.MatchString(name) {
		return "", errs.Newf(errs.KindInvalidArgument, "indexer.CollectionName",
			"collection name %q must match [A-Za-z0-9_-]{1,64}", name)
	}
	return name, nil
}
