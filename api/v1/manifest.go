/*
Copyright 2024.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package v1

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"

	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/apimachinery/pkg/runtime/serializer"
	utilyaml "k8s.io/apimachinery/pkg/util/yaml"
)

var (
	manifestScheme = runtime.NewScheme()
	codecs         = serializer.NewCodecFactory(manifestScheme)
)

func init() {
	if err := AddToScheme(manifestScheme); err != nil {
		panic(err)
	}
}

// DecodeManifests reads a stream of YAML or JSON documents and returns every
// InMemoryLDAPServer it declares. Lists are flattened in document order.
func DecodeManifests(r io.Reader) ([]*InMemoryLDAPServer, error) {
	reader := utilyaml.NewYAMLReader(bufio.NewReader(r))
	decoder := codecs.UniversalDeserializer()

	var servers []*InMemoryLDAPServer
	for doc := 1; ; doc++ {
		data, err := reader.Read()
		if errors.Is(err, io.EOF) {
			return servers, nil
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read manifest document %d: %w", doc, err)
		}
		if len(bytes.TrimSpace(data)) == 0 {
			continue
		}

		obj, _, err := decoder.Decode(data, nil, nil)
		if err != nil {
			return nil, fmt.Errorf("failed to decode manifest document %d: %w", doc, err)
		}

		switch o := obj.(type) {
		case *InMemoryLDAPServer:
			servers = append(servers, o)
		case *InMemoryLDAPServerList:
			for i := range o.Items {
				servers = append(servers, &o.Items[i])
			}
		default:
			return nil, fmt.Errorf("manifest document %d: unexpected object %T", doc, obj)
		}
	}
}
