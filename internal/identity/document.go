package identity

import "fmt"

// Document is the subset of a DID document this system cares about
// (spec.md §4.B).
type Document struct {
	DID                string               `json:"id"`
	VerificationMethod []VerificationMethod `json:"verificationMethod"`
	Service            []Service            `json:"service"`
}

// VerificationMethod is one entry of Document.VerificationMethod.
type VerificationMethod struct {
	ID                 string `json:"id"`
	Type               string `json:"type,omitempty"`
	PublicKeyMultibase string `json:"publicKeyMultibase,omitempty"`
}

// Service is one entry of Document.Service.
type Service struct {
	ID              string `json:"id"`
	Type            string `json:"type,omitempty"`
	ServiceEndpoint string `json:"serviceEndpoint"`
}

func hasFragmentSuffix(id, suffix string) bool {
	if len(id) < len(suffix) {
		return false
	}
	return id[len(id)-len(suffix):] == suffix
}

// SigningKey returns the labeler's `#atproto_label` signing key.
func SigningKey(doc Document) (string, error) {
	for _, vm := range doc.VerificationMethod {
		if hasFragmentSuffix(vm.ID, "#atproto_label") {
			if vm.PublicKeyMultibase == "" {
				return "", fmt.Errorf("verification method %s has no publicKeyMultibase", vm.ID)
			}
			return vm.PublicKeyMultibase, nil
		}
	}
	return "", fmt.Errorf("no #atproto_label verification method in document for %s", doc.DID)
}

// LabelerServiceEndpoint returns the labeler's `#atproto_labeler` service
// endpoint, the base URL for the label subscription.
func LabelerServiceEndpoint(doc Document) (string, error) {
	for _, svc := range doc.Service {
		if hasFragmentSuffix(svc.ID, "#atproto_labeler") {
			if svc.ServiceEndpoint == "" {
				return "", fmt.Errorf("service %s has no serviceEndpoint", svc.ID)
			}
			return svc.ServiceEndpoint, nil
		}
	}
	return "", fmt.Errorf("no #atproto_labeler service in document for %s", doc.DID)
}

// PDSEndpoint returns the `#atproto_pds` service endpoint used by the
// Service Record Fetcher (spec.md §4.C).
func PDSEndpoint(doc Document) (string, error) {
	for _, svc := range doc.Service {
		if hasFragmentSuffix(svc.ID, "#atproto_pds") {
			if svc.ServiceEndpoint == "" {
				return "", fmt.Errorf("service %s has no serviceEndpoint", svc.ID)
			}
			return svc.ServiceEndpoint, nil
		}
	}
	return "", fmt.Errorf("no #atproto_pds service in document for %s", doc.DID)
}
