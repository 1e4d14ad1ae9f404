// Package infra traz as implementações concretas do controle de admissão:
// o razão de uso em memória (janelas deslizantes + totais), o semáforo de
// concorrência e os destinos de estatísticas (memória, Redis).
package infra
