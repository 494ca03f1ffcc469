package snapshot

import "encoding/json"

// Instance is one gateway session as listed by fetchInstances.
type Instance struct {
	ID               string `json:"id,omitempty"`
	Name             string `json:"name"`
	ConnectionStatus string `json:"connectionStatus"`
	OwnerJID         string `json:"ownerJid,omitempty"`
	ProfileName      string `json:"profileName,omitempty"`
	ProfilePicURL    string `json:"profilePicUrl,omitempty"`
}

// Open reports whether the instance has a live WhatsApp session.
func (i Instance) Open() bool {
	return i.ConnectionStatus == "open"
}

type rawInstance struct {
	Instance
	// Older gateway versions nest the instance.
	Nested *struct {
		InstanceName string `json:"instanceName"`
		Status       string `json:"status"`
		State        string `json:"state"`
		Owner        string `json:"owner"`
		ProfileName  string `json:"profileName"`
	} `json:"instance"`
}

// NormalizeInstances converts a fetchInstances response into instances,
// skipping entries without a name.
func NormalizeInstances(raw json.RawMessage) []Instance {
	_, entries := Classify(raw)
	out := make([]Instance, 0, len(entries))
	for _, e := range entries {
		var r rawInstance
		if json.Unmarshal(e, &r) != nil {
			continue
		}
		inst := r.Instance
		if n := r.Nested; n != nil {
			inst.Name = firstNonEmpty(inst.Name, n.InstanceName)
			inst.ConnectionStatus = firstNonEmpty(inst.ConnectionStatus, n.Status, n.State)
			inst.OwnerJID = firstNonEmpty(inst.OwnerJID, n.Owner)
			inst.ProfileName = firstNonEmpty(inst.ProfileName, n.ProfileName)
		}
		if inst.Name == "" {
			continue
		}
		out = append(out, inst)
	}
	return out
}

// Find returns the instance called name.
func Find(instances []Instance, name string) (Instance, bool) {
	for _, i := range instances {
		if i.Name == name {
			return i, true
		}
	}
	return Instance{}, false
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
