package store

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vehicle-scan/pkg/models"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	db, err := Open("sqlite", filepath.Join(t.TempDir(), "vehicles.db"))
	require.NoError(t, err)
	s, err := New(db)
	require.NoError(t, err)
	return s
}

func TestStore_CreateGetRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	v := models.Vehicle{
		DriverName:    "João da Silva",
		CompanyName:   "Transportes Tapajós",
		LicensePlate:  "ABC-1B23",
		VehicleModel:  "CAVALO MECÂNICO",
		DeclaredValue: "R$ 1.500,00",
		PaymentStatus: models.PaymentPaid,
		Route:         models.RouteSantarem,
		Photo: models.CanonicalImage{
			PixelWidth:   500,
			PixelHeight:  375,
			EncodedBytes: []byte{0xff, 0xd8, 0xff, 0xd9},
			MIMEType:     "image/jpeg",
		},
	}
	require.NoError(t, s.Create(ctx, &v))
	assert.NotEmpty(t, v.ID)
	assert.False(t, v.CreatedAt.IsZero())

	got, err := s.Get(ctx, v.ID)
	require.NoError(t, err)
	assert.Equal(t, v.DriverName, got.DriverName)
	assert.Equal(t, v.CompanyName, got.CompanyName)
	assert.Equal(t, v.PaymentStatus, got.PaymentStatus)
	assert.Equal(t, v.Route, got.Route)
	assert.Equal(t, v.Photo, got.Photo)
	assert.True(t, got.HasPhoto())
}

func TestStore_ListKeepsEntryOrderPerRoute(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		route := models.RouteManaus
		if i%2 == 1 {
			route = models.RouteSantarem
		}
		require.NoError(t, s.Create(ctx, &models.Vehicle{DriverName: fmt.Sprintf("driver-%d", i), Route: route}))
	}

	manaus, err := s.List(ctx, models.RouteManaus)
	require.NoError(t, err)
	require.Len(t, manaus, 3)
	assert.Equal(t, "driver-0", manaus[0].DriverName)
	assert.Equal(t, "driver-2", manaus[1].DriverName)
	assert.Equal(t, "driver-4", manaus[2].DriverName)
	assert.False(t, manaus[0].HasPhoto())

	all, err := s.List(ctx, "")
	require.NoError(t, err)
	assert.Len(t, all, 5)
}

func TestStore_DeleteAndClear(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	a := models.Vehicle{DriverName: "a", Route: models.RouteManaus}
	b := models.Vehicle{DriverName: "b", Route: models.RouteManaus}
	c := models.Vehicle{DriverName: "c", Route: models.RouteSantarem}
	for _, v := range []*models.Vehicle{&a, &b, &c} {
		require.NoError(t, s.Create(ctx, v))
	}

	require.NoError(t, s.Delete(ctx, a.ID))
	assert.ErrorIs(t, s.Delete(ctx, a.ID), ErrNotFound)
	_, err := s.Get(ctx, a.ID)
	assert.ErrorIs(t, err, ErrNotFound)

	n, err := s.Clear(ctx, models.RouteManaus)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	left, err := s.List(ctx, "")
	require.NoError(t, err)
	require.Len(t, left, 1)
	assert.Equal(t, c.ID, left[0].ID)
}

func TestOpen_UnknownDriver(t *testing.T) {
	_, err := Open("oracle", "")
	assert.Error(t, err)
}
