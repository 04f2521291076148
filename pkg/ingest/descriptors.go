package ingest

import (
	"os"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/reflect/protodesc"
	"google.golang.org/protobuf/reflect/protoreflect"
	"google.golang.org/protobuf/reflect/protoregistry"
	"google.golang.org/protobuf/types/descriptorpb"
)

// ProtoDescriptorLoader reads a compiled FileDescriptorSet from
// wherever path names it. The engine never parses .proto sources
// itself; callers are expected to hand it the
// output of `protoc --descriptor_set_out`.
type ProtoDescriptorLoader func(path string) (*descriptorpb.FileDescriptorSet, error)

// LoadDescriptorSetFile is the default ProtoDescriptorLoader: it reads
// a serialized descriptorpb.FileDescriptorSet straight off disk.
func LoadDescriptorSetFile(path string) (*descriptorpb.FileDescriptorSet, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, newConfigError("reading descriptor set %q: %v", path, err)
	}
	var fds descriptorpb.FileDescriptorSet
	if err := proto.Unmarshal(raw, &fds); err != nil {
		return nil, newConfigError("parsing descriptor set %q: %v", path, err)
	}
	return &fds, nil
}

// linkDescriptorSet topologically links every FileDescriptorProto in
// fds's import DAG into a protoregistry.Files, resolving `import`
// edges before any MessageDescriptor can be looked up. A cycle, or a
// dependency missing from fds entirely, surfaces as ConfigError.

// LinkDescriptorSet is linkDescriptorSet exported for pkg/protoimport,
// which links descriptor sets outside of any Decoder construction.
func LinkDescriptorSet(fds *descriptorpb.FileDescriptorSet) (*protoregistry.Files, error) {
	return linkDescriptorSet(fds)
}

func linkDescriptorSet(fds *descriptorpb.FileDescriptorSet) (*protoregistry.Files, error) {
	byName := make(map[string]*descriptorpb.FileDescriptorProto, len(fds.GetFile()))
	for _, f := range fds.GetFile() {
		byName[f.GetName()] = f
	}

	order, err := topoSortFiles(fds.GetFile(), byName)
	if err != nil {
		return nil, err
	}

	files := new(protoregistry.Files)
	for _, f := range order {
		fd, err := protodesc.NewFile(f, files)
		if err != nil {
			return nil, newConfigError("linking descriptor %q: %v", f.GetName(), err)
		}
		if err := files.RegisterFile(fd); err != nil {
			return nil, newConfigError("registering descriptor %q: %v", f.GetName(), err)
		}
	}
	return files, nil
}

// topoSortFiles returns the FileDescriptorProtos in an order where
// every file appears after all of its Dependency entries, using a
// depth-first post-order visit. A cycle or a dependency absent from
// byName is a ConfigError.
func topoSortFiles(all []*descriptorpb.FileDescriptorProto, byName map[string]*descriptorpb.FileDescriptorProto) ([]*descriptorpb.FileDescriptorProto, error) {
	visited := make(map[string]int) // 0=unvisited, 1=in-progress, 2=done
	var order []*descriptorpb.FileDescriptorProto

	var visit func(name string) error
	visit = func(name string) error {
		switch visited[name] {
		case 2:
			return nil
		case 1:
			return newConfigError("cyclic import involving %q", name)
		}
		f, ok := byName[name]
		if !ok {
			return newConfigError("missing import %q", name)
		}
		visited[name] = 1
		for _, dep := range f.GetDependency() {
			if err := visit(dep); err != nil {
				return err
			}
		}
		visited[name] = 2
		order = append(order, f)
		return nil
	}

	for _, f := range all {
		if err := visit(f.GetName()); err != nil {
			return nil, err
		}
	}
	return order, nil
}

// findMessage resolves a fully-qualified message name within a linked
// descriptor graph.
func findMessage(files *protoregistry.Files, fullName string) (protoreflect.MessageDescriptor, error) {
	d, err := files.FindDescriptorByName(protoreflect.FullName(fullName))
	if err != nil {
		return nil, newConfigError("message %q not found in descriptor set: %v", fullName, err)
	}
	md, ok := d.(protoreflect.MessageDescriptor)
	if !ok {
		return nil, newConfigError("%q is not a message type", fullName)
	}
	return md, nil
}
