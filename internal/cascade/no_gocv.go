//go:build !cascade_gocv

package cascade

const gocvAvailable = false

func openGoCV(_ string) (Detector, error) {
	return nil, ErrBackendUnavailable
}
