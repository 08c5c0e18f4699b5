package types

import "encoding/json"

// The spec is authored by users and posted back to OMS after a few fields
// are resolved, so every struct below keeps the keys it does not know.

func (s *DeploymentSpec) UnmarshalJSON(data []byte) error {
	type plain DeploymentSpec
	if err := json.Unmarshal(data, (*plain)(s)); err != nil {
		return err
	}
	extra, err := unknownFields(data, "name", "attributes", "networkConfig", "vcClusters", "nodeGroups")
	if err != nil {
		return err
	}
	s.Extra = extra
	return nil
}

func (s DeploymentSpec) MarshalJSON() ([]byte, error) {
	type plain DeploymentSpec
	return withExtra(plain(s), s.Extra)
}

func (c *VCCluster) UnmarshalJSON(data []byte) error {
	type plain VCCluster
	if err := json.Unmarshal(data, (*plain)(c)); err != nil {
		return err
	}
	extra, err := unknownFields(data, "moid")
	if err != nil {
		return err
	}
	c.Extra = extra
	return nil
}

func (c VCCluster) MarshalJSON() ([]byte, error) {
	type plain VCCluster
	return withExtra(plain(c), c.Extra)
}

func (g *NodeGroup) UnmarshalJSON(data []byte) error {
	type plain NodeGroup
	if err := json.Unmarshal(data, (*plain)(g)); err != nil {
		return err
	}
	extra, err := unknownFields(data, "name", "role", "roles", "attributes", "nodeAttributes", "instances")
	if err != nil {
		return err
	}
	g.Extra = extra
	return nil
}

func (g NodeGroup) MarshalJSON() ([]byte, error) {
	type plain NodeGroup
	return withExtra(plain(g), g.Extra)
}

func (i *Instance) UnmarshalJSON(data []byte) error {
	type plain Instance
	if err := json.Unmarshal(data, (*plain)(i)); err != nil {
		return err
	}
	extra, err := unknownFields(data, "name", "status", "attributes")
	if err != nil {
		return err
	}
	i.Extra = extra
	return nil
}

func (i Instance) MarshalJSON() ([]byte, error) {
	type plain Instance
	return withExtra(plain(i), i.Extra)
}

// unknownFields returns the members of the JSON object data that are not
// listed in known. It returns nil when there are none.
func unknownFields(data []byte, known ...string) (map[string]json.RawMessage, error) {
	var all map[string]json.RawMessage
	if err := json.Unmarshal(data, &all); err != nil {
		return nil, err
	}
	for _, k := range known {
		delete(all, k)
	}
	if len(all) == 0 {
		return nil, nil
	}
	return all, nil
}

// withExtra encodes v and merges extra into the resulting object. Modeled
// fields win over extra members with the same key.
func withExtra(v any, extra map[string]json.RawMessage) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil || len(extra) == 0 {
		return data, err
	}

	var obj map[string]json.RawMessage
	if err := json.Unmarshal(data, &obj); err != nil {
		return nil, err
	}
	for k, raw := range extra {
		if _, ok := obj[k]; !ok {
			obj[k] = raw
		}
	}
	return json.Marshal(obj)
}
