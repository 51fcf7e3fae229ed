package system

import (
	"image"
	"sync"
)

// CanvasPool переиспользует RGBA-холсты кадра для снижения нагрузки на
// Garbage Collector (GC). Размер кадра фиксирован на весь запуск, поэтому
// пул держит холсты одного размера.
type CanvasPool struct {
	rect image.Rectangle
	pool sync.Pool
}

func NewCanvasPool(width, height int) *CanvasPool {
	rect := image.Rect(0, 0, width, height)
	return &CanvasPool{
		rect: rect,
		pool: sync.Pool{
			New: func() interface{} {
				return image.NewRGBA(rect)
			},
		},
	}
}

// Get возвращает холст из пула или создает новый. Содержимое не очищается:
// вызывающая сторона сама заливает фон первым шагом отрисовки.
func (p *CanvasPool) Get() *image.RGBA {
	return p.pool.Get().(*image.RGBA)
}

// Put возвращает холст в пул после того, как кадр передан кодировщику.
func (p *CanvasPool) Put(img *image.RGBA) {
	if img == nil || img.Rect != p.rect {
		return
	}
	p.pool.Put(img)
}
