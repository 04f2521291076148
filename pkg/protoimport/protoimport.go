// Package protoimport implements the parse_proto_metadata command's
// collaborator: given already-compiled FileDescriptorSet blobs, it
// links them and reports the packages and message names they define.
// Compiling .proto sources with protoc is out of scope; only the
// binary descriptor output is accepted.
package protoimport

import (
	"sort"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/reflect/protoreflect"
	"google.golang.org/protobuf/types/descriptorpb"

	"github.com/kafkascope/kafkascope/pkg/ingest"
)

// Metadata is the sorted, deduped summary parse_proto_metadata
// returns.
type Metadata struct {
	Packages []string `json:"packages"`
	Messages []string `json:"messages"`
}

// Parse merges one or more FileDescriptorSet blobs into a single
// descriptor graph and reports every package and fully-qualified
// message name it defines. A cyclic or unresolved import across the
// merged set surfaces as ConfigError, matching pkg/ingest's own
// descriptor linker.
func Parse(blobs [][]byte) (Metadata, error) {
	merged := &descriptorpb.FileDescriptorSet{}
	for i, blob := range blobs {
		var fds descriptorpb.FileDescriptorSet
		if err := proto.Unmarshal(blob, &fds); err != nil {
			return Metadata{}, ingest.NewConfigError("descriptor blob %d: %v", i, err)
		}
		merged.File = append(merged.File, fds.GetFile()...)
	}

	files, err := ingest.LinkDescriptorSet(merged)
	if err != nil {
		return Metadata{}, err
	}

	pkgSet := make(map[string]struct{})
	msgSet := make(map[string]struct{})

	files.RangeFiles(func(fd protoreflect.FileDescriptor) bool {
		if pkg := string(fd.Package()); pkg != "" {
			pkgSet[pkg] = struct{}{}
		}
		collectMessages(fd.Messages(), msgSet)
		return true
	})

	return Metadata{
		Packages: sortedKeys(pkgSet),
		Messages: sortedKeys(msgSet),
	}, nil
}

// collectMessages walks a message list and its nested types,
// recording every fully-qualified name.
func collectMessages(msgs protoreflect.MessageDescriptors, out map[string]struct{}) {
	for i := 0; i < msgs.Len(); i++ {
		md := msgs.Get(i)
		out[string(md.FullName())] = struct{}{}
		collectMessages(md.Messages(), out)
	}
}

func sortedKeys(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
