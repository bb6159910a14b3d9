package audit_test

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	internal "github.com/frahmantamala/affiliate-payouts/internal"
	auditPkg "github.com/frahmantamala/affiliate-payouts/internal/audit"
	"github.com/frahmantamala/affiliate-payouts/internal/core/datamodel/audit"
)

func TestAuditService(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Audit Service Suite")
}

// Mock repository for testing
type mockAuditRepository struct {
	entries     []*audit.Log
	createError error
	lastFilter  auditPkg.Filter
}

func (m *mockAuditRepository) Create(l *audit.Log) error {
	if m.createError != nil {
		return m.createError
	}
	m.entries = append(m.entries, l)
	return nil
}

func (m *mockAuditRepository) List(f auditPkg.Filter) ([]*audit.Log, int64, error) {
	m.lastFilter = f
	return m.entries, int64(len(m.entries)), nil
}

var _ = Describe("Audit Service", func() {
	var (
		repo    *mockAuditRepository
		service *auditPkg.Service
		ctx     context.Context
	)

	BeforeEach(func() {
		repo = &mockAuditRepository{}
		service = auditPkg.NewService(repo, slog.Default())
		ctx = context.Background()
	})

	Describe("Record", func() {
		It("should persist the entry with marshalled details", func() {
			// Given
			batchID := int64(3)

			// When
			err := service.Record(ctx, "batch.create", audit.StatusSuccess,
				map[string]interface{}{"reference": "BATCH-2026-AAAAAA"}, &batchID, nil)

			// Then
			Expect(err).ToNot(HaveOccurred())
			Expect(repo.entries).To(HaveLen(1))

			entry := repo.entries[0]
			Expect(entry.Action).To(Equal("batch.create"))
			Expect(entry.Status).To(Equal(audit.StatusSuccess))
			Expect(*entry.BatchID).To(Equal(batchID))

			var details map[string]string
			Expect(json.Unmarshal(entry.Details, &details)).To(Succeed())
			Expect(details["reference"]).To(Equal("BATCH-2026-AAAAAA"))
		})

		It("should carry the actor from the request context", func() {
			// Given
			ctx := internal.ContextWithActor(ctx, "ops@example.com")

			// When
			err := service.Record(ctx, "batch.cancel", audit.StatusSuccess, nil, nil, nil)

			// Then
			Expect(err).ToNot(HaveOccurred())
			Expect(repo.entries[0].Actor).To(Equal("ops@example.com"))
		})

		It("should substitute a marker for unmarshallable details", func() {
			// When details hold something json cannot encode
			err := service.Record(ctx, "batch.execute", audit.StatusFailure, func() {}, nil, nil)

			// Then
			Expect(err).ToNot(HaveOccurred())
			Expect(string(repo.entries[0].Details)).To(ContainSubstring("marshal_error"))
		})

		It("should report repository failures to the caller", func() {
			// Given
			repo.createError = errors.New("db down")

			// When
			err := service.Record(ctx, "batch.create", audit.StatusSuccess, nil, nil, nil)

			// Then
			Expect(err).To(HaveOccurred())
		})
	})

	Describe("List", func() {
		It("should clamp out-of-range pagination", func() {
			// When
			_, _, err := service.List(auditPkg.Filter{Limit: 5000, Offset: -1})

			// Then
			Expect(err).ToNot(HaveOccurred())
			Expect(repo.lastFilter.Limit).To(Equal(50))
			Expect(repo.lastFilter.Offset).To(Equal(0))
		})

		It("should pass a sane filter through unchanged", func() {
			// When
			_, _, err := service.List(auditPkg.Filter{Action: "batch.create", Limit: 20, Offset: 40})

			// Then
			Expect(err).ToNot(HaveOccurred())
			Expect(repo.lastFilter.Action).To(Equal("batch.create"))
			Expect(repo.lastFilter.Limit).To(Equal(20))
			Expect(repo.lastFilter.Offset).To(Equal(40))
		})
	})
})
