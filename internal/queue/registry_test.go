package queue

import "testing"

func TestRegistryReusesManagerForSameQueueName(t *testing.T) {
	db := openTestDB(t)
	reg := NewRegistry(db)

	m1, err := reg.For("CTX-JobReq-ZIP")
	if err != nil {
		t.Fatalf("for: %v", err)
	}
	m2, err := reg.For("CTX-JobReq-ZIP")
	if err != nil {
		t.Fatalf("for: %v", err)
	}
	if m1 != m2 {
		t.Fatal("expected the same Manager instance for repeated queue names")
	}

	m3, err := reg.For("CTX-JobReq-PDF")
	if err != nil {
		t.Fatalf("for: %v", err)
	}
	if m3 == m1 {
		t.Fatal("expected a distinct Manager for a different queue name")
	}
}
