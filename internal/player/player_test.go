package player_test

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"testing"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/frahmantamala/league-payments/internal"
	"github.com/frahmantamala/league-payments/internal/core/datamodel/player"
	playerService "github.com/frahmantamala/league-payments/internal/player"
	"github.com/frahmantamala/league-payments/internal/player/playertest"
)

func TestPlayer(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Player Suite")
}

var _ = Describe("Player Service", func() {
	var (
		repo    *playertest.Memory
		service *playerService.Service
		ctx     = context.Background()
	)

	BeforeEach(func() {
		logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
		repo = playertest.NewMemory()
		service = playerService.NewService(repo, logger)

		on := "ON"
		blank := " "
		repo.AddCity(player.City{ID: 1, Name: "Toronto", Region: &on})
		repo.AddCity(player.City{ID: 2, Name: "Nowhere", Region: &blank})
	})

	Describe("Region", func() {
		It("resolves through the division's city", func() {
			cityID := int64(1)
			region, err := service.Region(ctx, &player.Division{ID: 1, CityID: &cityID})
			Expect(err).ToNot(HaveOccurred())
			Expect(region).To(Equal("ON"))
		})

		It("fails explicitly when the division has no city", func() {
			_, err := service.Region(ctx, &player.Division{ID: 1})
			Expect(errors.Is(err, internal.ErrRegionMissing)).To(BeTrue())
		})

		It("fails explicitly when the city has no region", func() {
			cityID := int64(2)
			_, err := service.Region(ctx, &player.Division{ID: 1, CityID: &cityID})
			Expect(errors.Is(err, internal.ErrRegionMissing)).To(BeTrue())
		})

		It("treats a dangling city reference as a missing region", func() {
			cityID := int64(99)
			_, err := service.Region(ctx, &player.Division{ID: 1, CityID: &cityID})
			Expect(errors.Is(err, internal.ErrRegionMissing)).To(BeTrue())
		})
	})

	Describe("PlayerWithDivision", func() {
		It("loads both records", func() {
			repo.AddDivision(player.Division{ID: 5, Name: "Coed"})
			repo.AddPlayer(player.Player{ID: 7, FirstName: "Ana", DivisionID: 5})

			p, div, err := service.PlayerWithDivision(ctx, 7)
			Expect(err).ToNot(HaveOccurred())
			Expect(p.FullName()).To(Equal("Ana"))
			Expect(div.Name).To(Equal("Coed"))
		})

		It("surfaces a missing player", func() {
			_, _, err := service.PlayerWithDivision(ctx, 404)
			Expect(errors.Is(err, internal.ErrPlayerNotFound)).To(BeTrue())
		})
	})

	It("propagates write failures from SetHasPaid", func() {
		repo.SetShouldFail(errors.New("db down"))
		Expect(service.SetHasPaid(ctx, 7, true)).To(MatchError("db down"))
	})
})
